package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"

	"reelguard/internal/biz"
	"reelguard/internal/conf"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/table"
)

const (
	defaultMaxUploadBytes = 512 << 20
	// parts beyond this spill to temporary files
	multipartMemory = 32 << 20
)

// Analyzer runs the moderation pipeline for one uploaded video.
type Analyzer interface {
	Analyze(ctx context.Context, req *biz.AnalysisRequest) (*biz.AnalysisResult, error)
}

// AnalyzeReply is the JSON body of POST /analyze.
type AnalyzeReply struct {
	Transcript        string     `json:"transcript"`
	AbusiveTable      table.Rows `json:"abusive_table"`
	ViolentTable      table.Rows `json:"violent_table"`
	NSFWAudioTable    table.Rows `json:"nsfw_audio_table"`
	PoliticalTable    table.Rows `json:"political_table"`
	ReligiousTable    table.Rows `json:"religious_table"`
	VideoNSFWInfo     string     `json:"video_nsfw_info"`
	VideoViolenceInfo string     `json:"video_violence_info"`
	Error             string     `json:"error,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

// AnalysisService is the HTTP front door of the pipeline.
type AnalysisService struct {
	uc        Analyzer
	uploadDir string
	maxBytes  int64
	log       *log.Helper
}

// NewAnalysisService creates a new AnalysisService and its upload directory.
func NewAnalysisService(uc *biz.AnalysisUsecase, c *conf.Server, logger log.Logger) (*AnalysisService, error) {
	return newAnalysisService(uc, c.GetUpload(), logger)
}

func newAnalysisService(uc Analyzer, up *conf.Upload, logger log.Logger) (*AnalysisService, error) {
	dir := filepath.Join(os.TempDir(), "reelguard-uploads")
	var maxBytes int64 = defaultMaxUploadBytes
	if up != nil {
		if up.Dir != "" {
			dir = up.Dir
		}
		if up.MaxBytes > 0 {
			maxBytes = up.MaxBytes
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &AnalysisService{
		uc:        uc,
		uploadDir: dir,
		maxBytes:  maxBytes,
		log:       log.NewHelper(logger),
	}, nil
}

// Analyze handles POST /analyze.
func (s *AnalysisService) Analyze(ctx khttp.Context) error {
	r := ctx.Request()
	r.Body = http.MaxBytesReader(ctx.Response(), r.Body, s.maxBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ctx.JSON(http.StatusRequestEntityTooLarge, errorReply{Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
		}
		return ctx.JSON(http.StatusBadRequest, errorReply{Error: "malformed multipart form: " + err.Error()})
	}
	defer r.MultipartForm.RemoveAll()

	req := &biz.AnalysisRequest{RequestID: uuid.NewString()}
	req.Credential = r.FormValue("gemini_api")
	if req.Credential == "" {
		req.Credential = r.FormValue("api_key")
	}
	toggles := []struct {
		field string
		dst   *bool
	}{
		{"detect_abusive", &req.Abusive},
		{"detect_violent", &req.Violent},
		{"detect_nsfw", &req.NSFW},
		{"detect_political", &req.Political},
		{"detect_religious", &req.Religious},
	}
	for _, t := range toggles {
		v, err := formBool(r.FormValue(t.field))
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, errorReply{Error: fmt.Sprintf("invalid %s: %v", t.field, err)})
		}
		*t.dst = v
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorReply{Error: "video file is required"})
	}
	defer file.Close()

	path, err := s.save(req.RequestID, file, header)
	if err != nil {
		s.log.Errorf("request %s: %v", req.RequestID, err)
		return ctx.JSON(http.StatusInternalServerError, errorReply{Error: "failed to store upload"})
	}
	// the pipeline removes the video once validation passes
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("failed to remove upload %s: %v", path, err)
		}
	}()
	req.VideoPath = path

	s.log.Infof("request %s: analyzing %s (%d bytes)", req.RequestID, header.Filename, header.Size)
	res, err := s.uc.Analyze(r.Context(), req)
	if err != nil {
		if res == nil {
			s.log.Errorf("request %s: analysis failed: %v", req.RequestID, err)
			return ctx.JSON(http.StatusInternalServerError, errorReply{Error: err.Error()})
		}
		reply := toReply(res)
		reply.Error = kerrors.FromError(err).GetMessage()
		return ctx.JSON(http.StatusBadRequest, reply)
	}
	return ctx.JSON(http.StatusOK, toReply(res))
}

func (s *AnalysisService) save(id string, file multipart.File, header *multipart.FileHeader) (string, error) {
	name := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	path := filepath.Join(s.uploadDir, id+"-"+name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

func formBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

func toReply(res *biz.AnalysisResult) *AnalyzeReply {
	return &AnalyzeReply{
		Transcript:        res.Transcript,
		AbusiveTable:      res.Table(moderator.CategoryAbusive),
		ViolentTable:      res.Table(moderator.CategoryViolent),
		NSFWAudioTable:    res.Table(moderator.CategoryNSFW),
		PoliticalTable:    res.Table(moderator.CategoryPolitical),
		ReligiousTable:    res.Table(moderator.CategoryReligious),
		VideoNSFWInfo:     wireLabel(res.NSFWInfo),
		VideoViolenceInfo: wireLabel(res.ViolenceInfo),
	}
}

// wireLabel appends the newline clients expect after a visual label.
func wireLabel(label string) string {
	if label == "" {
		return ""
	}
	return label + "\n"
}
