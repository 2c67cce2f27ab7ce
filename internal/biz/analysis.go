package biz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reelguard/internal/pkg/media"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/table"
)

// AnalysisRequest is one video to moderate.
type AnalysisRequest struct {
	RequestID  string
	VideoPath  string
	Credential string

	Abusive   bool
	Violent   bool
	NSFW      bool
	Political bool
	Religious bool
}

// Enabled reports whether the text category is requested.
func (r *AnalysisRequest) Enabled(c moderator.Category) bool {
	switch c {
	case moderator.CategoryAbusive:
		return r.Abusive
	case moderator.CategoryViolent:
		return r.Violent
	case moderator.CategoryNSFW:
		return r.NSFW
	case moderator.CategoryPolitical:
		return r.Political
	case moderator.CategoryReligious:
		return r.Religious
	}
	return false
}

// AnyEnabled reports whether at least one detection is requested.
func (r *AnalysisRequest) AnyEnabled() bool {
	return r.Abusive || r.Violent || r.NSFW || r.Political || r.Religious
}

// Stage is a step of the analysis pipeline.
type Stage int

const (
	StageValidating Stage = iota
	StagePreparingMedia
	StageClassifyingText
	StageClassifyingVisual
	StageReconciling
	StageAssembling
	StageCleaningUp
	StageDone
	StageErrored
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StagePreparingMedia:
		return "preparing_media"
	case StageClassifyingText:
		return "classifying_text"
	case StageClassifyingVisual:
		return "classifying_visual"
	case StageReconciling:
		return "reconciling"
	case StageAssembling:
		return "assembling"
	case StageCleaningUp:
		return "cleaning_up"
	case StageDone:
		return "done"
	case StageErrored:
		return "errored"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// AnalysisResult is the unified output for one video. NSFWInfo and
// ViolenceInfo are bare labels, empty when the task was not requested.
type AnalysisResult struct {
	RequestID    string
	Transcript   string
	Tables       map[moderator.Category]table.Rows
	Verdicts     []*moderator.TextVerdict
	NSFWInfo     string
	ViolenceInfo string
	Stage        Stage
}

// Table returns the rows for category.
func (r *AnalysisResult) Table(c moderator.Category) table.Rows {
	if rows, ok := r.Tables[c]; ok {
		return rows
	}
	return table.NotAnalyzed()
}

// MediaPreparer demuxes a video into audio and frames.
type MediaPreparer interface {
	NewWorkspace(requestID string) (*media.Workspace, error)
	ExtractAudio(ctx context.Context, video string, ws *media.Workspace) (string, error)
	SampleFrames(ctx context.Context, video string, ws *media.Workspace) ([]media.Frame, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// TextModerator classifies a transcript for one category.
type TextModerator interface {
	Moderate(ctx context.Context, category moderator.Category, transcript, credential string) *moderator.TextVerdict
}

// VisualModerator runs the requested visual tasks over sampled frames.
type VisualModerator interface {
	Moderate(ctx context.Context, frames []media.Frame, wantNSFW, wantViolence bool) *moderator.VisualVerdict
}

// AnalysisConfig holds configuration for the analysis pipeline.
type AnalysisConfig struct {
	TextConcurrency int // categories classified at once; 1 is sequential
}

// DefaultAnalysisConfig returns default configuration.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{TextConcurrency: 1}
}

// AnalysisUsecase fuses the transcript and visual signals of one video.
type AnalysisUsecase struct {
	config AnalysisConfig
	media  MediaPreparer
	stt    Transcriber
	text   TextModerator
	visual VisualModerator
	usage  UsageRepo
	log    *log.Helper
}

// NewAnalysisUsecase creates a new AnalysisUsecase. usage may be nil.
func NewAnalysisUsecase(
	config AnalysisConfig,
	mp MediaPreparer,
	stt Transcriber,
	text TextModerator,
	visual VisualModerator,
	usage UsageRepo,
	logger log.Logger,
) *AnalysisUsecase {
	if config.TextConcurrency <= 0 {
		config.TextConcurrency = 1
	}
	return &AnalysisUsecase{
		config: config,
		media:  mp,
		stt:    stt,
		text:   text,
		visual: visual,
		usage:  usage,
		log:    log.NewHelper(logger),
	}
}

// Analyze runs the whole pipeline. A validation failure returns the
// placeholder result together with the error; the source video and every
// artifact derived from it are removed once validation passes.
func (uc *AnalysisUsecase) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	res := &AnalysisResult{
		RequestID: req.RequestID,
		Tables:    make(map[moderator.Category]table.Rows, len(moderator.Categories)),
	}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}

	uc.enter(res, StageValidating)
	if err := uc.validate(req); err != nil {
		uc.log.Warnf("request %s rejected: %v", res.RequestID, err)
		res.reject(err)
		return res, err
	}

	var ws *media.Workspace
	defer func() {
		uc.enter(res, StageCleaningUp)
		uc.cleanup(ws, req.VideoPath)
		uc.enter(res, StageDone)
	}()

	uc.enter(res, StagePreparingMedia)
	ws, err := uc.media.NewWorkspace(res.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare media: %w", err)
	}
	res.Transcript = uc.transcribe(ctx, req.VideoPath, ws)

	uc.enter(res, StageClassifyingText)
	res.Verdicts = uc.classifyText(ctx, req, res.Transcript)

	var visual *moderator.VisualVerdict
	if req.NSFW || req.Violent {
		uc.enter(res, StageClassifyingVisual)
		frames, err := uc.media.SampleFrames(ctx, req.VideoPath, ws)
		if err != nil {
			uc.log.Warnf("request %s: frame sampling failed: %v", res.RequestID, err)
			frames = nil
		}
		visual = uc.visual.Moderate(ctx, frames, req.NSFW, req.Violent)
	}

	uc.enter(res, StageReconciling)
	if visual != nil {
		res.NSFWInfo = visual.NSFW
		res.ViolenceInfo = ReconcileViolence(violenceSignal(res.Verdicts), visual.Violence)
		if res.ViolenceInfo != visual.Violence {
			uc.log.Infof("request %s: violence %q overridden by transcript to %q", res.RequestID, visual.Violence, res.ViolenceInfo)
		}
	}

	uc.enter(res, StageAssembling)
	for _, c := range moderator.Categories {
		res.Tables[c] = table.NotAnalyzed()
	}
	for _, v := range res.Verdicts {
		res.Tables[v.Category] = v.Rows
	}
	uc.recordUsage(ctx, res)

	return res, nil
}

func (uc *AnalysisUsecase) enter(res *AnalysisResult, stage Stage) {
	res.Stage = stage
	uc.log.Debugf("request %s: %s", res.RequestID, stage)
}

func (uc *AnalysisUsecase) validate(req *AnalysisRequest) error {
	if !req.AnyEnabled() {
		return ErrNoDetectionSelected
	}
	if req.VideoPath == "" {
		return ErrMediaNotFound
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		return ErrMediaNotFound.WithCause(err)
	}
	return nil
}

// reject fills the placeholder output of a rejected request.
func (r *AnalysisResult) reject(err error) {
	r.Stage = StageErrored
	r.Transcript = kerrors.FromError(err).GetMessage()
	for _, c := range moderator.Categories {
		r.Tables[c] = table.Blank()
	}
	r.NSFWInfo = ""
	r.ViolenceInfo = ""
}

// transcribe degrades to an empty transcript on any failure.
func (uc *AnalysisUsecase) transcribe(ctx context.Context, video string, ws *media.Workspace) string {
	audio, err := uc.media.ExtractAudio(ctx, video, ws)
	if err != nil {
		if errors.Is(err, media.ErrNoAudio) {
			uc.log.Infof("no audio extracted from %s, continuing with empty transcript: %v", video, err)
		} else {
			uc.log.Warnf("failed to extract audio from %s: %v", video, err)
		}
		return ""
	}
	text, err := uc.stt.Transcribe(ctx, audio)
	if err != nil {
		uc.log.Warnf("transcription failed, continuing with empty transcript: %v", err)
		return ""
	}
	return text
}

func (uc *AnalysisUsecase) classifyText(ctx context.Context, req *AnalysisRequest, transcript string) []*moderator.TextVerdict {
	var enabled []moderator.Category
	for _, c := range moderator.Categories {
		if req.Enabled(c) {
			enabled = append(enabled, c)
		}
	}
	verdicts := make([]*moderator.TextVerdict, len(enabled))

	if uc.config.TextConcurrency == 1 {
		for i, c := range enabled {
			verdicts[i] = uc.text.Moderate(ctx, c, transcript, req.Credential)
		}
		return verdicts
	}

	var g errgroup.Group
	g.SetLimit(uc.config.TextConcurrency)
	for i, c := range enabled {
		g.Go(func() error {
			verdicts[i] = uc.text.Moderate(ctx, c, transcript, req.Credential)
			return nil
		})
	}
	g.Wait()
	return verdicts
}

func violenceSignal(verdicts []*moderator.TextVerdict) *bool {
	for _, v := range verdicts {
		if v.Category == moderator.CategoryViolent {
			return v.Flagged
		}
	}
	return nil
}

func (uc *AnalysisUsecase) recordUsage(ctx context.Context, res *AnalysisResult) {
	if uc.usage == nil || len(res.Verdicts) == 0 {
		return
	}
	records := usageRecords(res.RequestID, res.Verdicts, time.Now())
	if err := uc.usage.Record(ctx, records); err != nil {
		uc.log.Warnf("request %s: failed to record usage: %v", res.RequestID, err)
	}
}

func (uc *AnalysisUsecase) cleanup(ws *media.Workspace, video string) {
	if err := ws.Remove(); err != nil {
		uc.log.Warnf("failed to remove workspace %s: %v", ws.Dir, err)
	}
	if err := os.Remove(video); err != nil && !os.IsNotExist(err) {
		uc.log.Warnf("failed to remove source video %s: %v", video, err)
	}
}
