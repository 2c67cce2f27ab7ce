package service

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"

	"reelguard/internal/biz"
	"reelguard/internal/conf"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/table"
)

type fakeAnalyzer struct {
	got     *biz.AnalysisRequest
	content []byte
	res     *biz.AnalysisResult
	err     error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req *biz.AnalysisRequest) (*biz.AnalysisResult, error) {
	f.got = req
	f.content, _ = os.ReadFile(req.VideoPath)
	return f.res, f.err
}

func newTestServer(t *testing.T, uc Analyzer, maxBytes int64) (*khttp.Server, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := newAnalysisService(uc, &conf.Upload{Dir: dir, MaxBytes: maxBytes}, log.DefaultLogger)
	if err != nil {
		t.Fatalf("newAnalysisService failed: %v", err)
	}
	srv := khttp.NewServer()
	srv.Route("/").POST("/analyze", svc.Analyze)
	return srv, dir
}

func multipartBody(t *testing.T, fields map[string]string, video []byte, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if video != nil {
		part, err := w.CreateFormFile("video", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(video)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func doRequest(t *testing.T, srv *khttp.Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func successResult() *biz.AnalysisResult {
	return &biz.AnalysisResult{
		Transcript: "سب ٹھیک ہے",
		Tables: map[moderator.Category]table.Rows{
			moderator.CategoryAbusive: {{"is_flagged", "False"}, {"cost_breakdown", "input_tokens: 10"}},
			moderator.CategoryViolent: table.NotAnalyzed(),
		},
		NSFWInfo:     moderator.LabelSFW,
		ViolenceInfo: moderator.LabelViolence,
	}
}

func TestAnalyze_Success(t *testing.T) {
	uc := &fakeAnalyzer{res: successResult()}
	srv, dir := newTestServer(t, uc, 0)

	credential := gofakeit.UUID()
	video := []byte(gofakeit.LoremIpsumSentence(20))
	body, ct := multipartBody(t, map[string]string{
		"gemini_api":     credential,
		"detect_abusive": "true",
		"detect_nsfw":    "True",
		"detect_violent": "false",
	}, video, "../../etc/clip.mp4")

	rec := doRequest(t, srv, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}

	if uc.got.Credential != credential {
		t.Errorf("Credential = %q", uc.got.Credential)
	}
	if !uc.got.Abusive || !uc.got.NSFW || uc.got.Violent || uc.got.Political || uc.got.Religious {
		t.Errorf("toggles = %+v", uc.got)
	}
	if !bytes.Equal(uc.content, video) {
		t.Error("stored upload differs from the sent file")
	}
	if !strings.HasPrefix(uc.got.VideoPath, dir) || !strings.HasSuffix(uc.got.VideoPath, uc.got.RequestID+"-clip.mp4") {
		t.Errorf("VideoPath = %q; want <dir>/<id>-clip.mp4", uc.got.VideoPath)
	}
	if _, err := os.Stat(uc.got.VideoPath); !os.IsNotExist(err) {
		t.Error("upload must not outlive the request")
	}

	var reply map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, key := range []string{"transcript", "abusive_table", "violent_table", "nsfw_audio_table", "political_table", "religious_table", "video_nsfw_info", "video_violence_info"} {
		if _, ok := reply[key]; !ok {
			t.Errorf("reply missing %q", key)
		}
	}
	if _, ok := reply["error"]; ok {
		t.Error("successful reply must not carry an error")
	}
	if reply["video_nsfw_info"] != "SFW (Safe For Work)\n" || reply["video_violence_info"] != "Violence\n" {
		t.Errorf("labels = %q, %q", reply["video_nsfw_info"], reply["video_violence_info"])
	}
	if got := reply["political_table"]; !jsonEqual(got, []any{[]any{"N/A", "Not analyzed"}}) {
		t.Errorf("political_table = %v", got)
	}
}

func TestAnalyze_CredentialAlias(t *testing.T) {
	uc := &fakeAnalyzer{res: successResult()}
	srv, _ := newTestServer(t, uc, 0)

	body, ct := multipartBody(t, map[string]string{"api_key": "alias-key", "detect_religious": "1"}, []byte("v"), "a.mp4")
	if rec := doRequest(t, srv, body, ct); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if uc.got.Credential != "alias-key" || !uc.got.Religious {
		t.Errorf("request = %+v", uc.got)
	}
}

func TestAnalyze_ValidationFailure(t *testing.T) {
	res := &biz.AnalysisResult{
		Transcript: "Error: At least one detection option must be selected.",
		Tables:     map[moderator.Category]table.Rows{},
	}
	for _, c := range moderator.Categories {
		res.Tables[c] = table.Blank()
	}
	uc := &fakeAnalyzer{res: res, err: biz.ErrNoDetectionSelected}
	srv, _ := newTestServer(t, uc, 0)

	body, ct := multipartBody(t, map[string]string{"gemini_api": "k"}, []byte("v"), "a.mp4")
	rec := doRequest(t, srv, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}

	var reply AnalyzeReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if reply.Error != "Error: At least one detection option must be selected." {
		t.Errorf("Error = %q", reply.Error)
	}
	if reply.Transcript != reply.Error {
		t.Errorf("Transcript = %q", reply.Transcript)
	}
	if len(reply.AbusiveTable) != 1 || reply.AbusiveTable[0] != (table.Row{"N/A", ""}) {
		t.Errorf("AbusiveTable = %v", reply.AbusiveTable)
	}
	if reply.VideoNSFWInfo != "" || reply.VideoViolenceInfo != "" {
		t.Error("visual info must be empty")
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		video  []byte
		want   int
	}{
		{name: "missing video", fields: map[string]string{"detect_abusive": "true"}, want: http.StatusBadRequest},
		{name: "bad toggle", fields: map[string]string{"detect_abusive": "maybe"}, video: []byte("v"), want: http.StatusBadRequest},
		{name: "too large", fields: map[string]string{"detect_abusive": "true"}, video: bytes.Repeat([]byte("x"), 4096), want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &fakeAnalyzer{res: successResult()}
			srv, _ := newTestServer(t, uc, 1024)

			body, ct := multipartBody(t, tt.fields, tt.video, "a.mp4")
			rec := doRequest(t, srv, body, ct)
			if rec.Code != tt.want {
				t.Fatalf("status = %d; want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if uc.got != nil {
				t.Error("pipeline must not run")
			}
			var reply errorReply
			if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil || reply.Error == "" {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestAnalyze_MalformedMultipart(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{}, 0)
	rec := doRequest(t, srv, bytes.NewBufferString("not multipart"), "multipart/form-data; boundary=xyz")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestWireLabel(t *testing.T) {
	if got := wireLabel(""); got != "" {
		t.Errorf("wireLabel(\"\") = %q", got)
	}
	if got := wireLabel(moderator.LabelNSFW); got != "NSFW (Not Safe For Work)\n" {
		t.Errorf("wireLabel = %q", got)
	}
}

func jsonEqual(got any, want any) bool {
	a, _ := json.Marshal(got)
	b, _ := json.Marshal(want)
	return bytes.Equal(a, b)
}
