package biz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/pkg/llm"
	"reelguard/internal/pkg/media"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/table"
)

type fakeMedia struct {
	root      string
	frames    int
	audioErr  error
	framesErr error
}

func (m *fakeMedia) NewWorkspace(requestID string) (*media.Workspace, error) {
	dir, err := os.MkdirTemp(m.root, requestID+"-")
	if err != nil {
		return nil, err
	}
	return &media.Workspace{Dir: dir, FramesDir: filepath.Join(dir, "frames")}, nil
}

func (m *fakeMedia) ExtractAudio(_ context.Context, _ string, ws *media.Workspace) (string, error) {
	if m.audioErr != nil {
		return "", m.audioErr
	}
	out := filepath.Join(ws.Dir, "audio.mp3")
	return out, os.WriteFile(out, []byte("ID3"), 0o644)
}

func (m *fakeMedia) SampleFrames(_ context.Context, _ string, ws *media.Workspace) ([]media.Frame, error) {
	if m.framesErr != nil {
		return nil, m.framesErr
	}
	if err := os.MkdirAll(ws.FramesDir, 0o755); err != nil {
		return nil, err
	}
	frames := make([]media.Frame, m.frames)
	for i := range frames {
		path := filepath.Join(ws.FramesDir, fmt.Sprintf("frame_%06d.jpg", i+1))
		if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0o644); err != nil {
			return nil, err
		}
		frames[i] = media.Frame{Index: i, Path: path}
	}
	return frames, nil
}

type fakeSTT struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *fakeSTT) Transcribe(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

type textCall struct {
	category   moderator.Category
	transcript string
	credential string
}

// fakeText returns a deterministic verdict per category. Categories listed in
// fail come back as classifier errors.
type fakeText struct {
	mu      sync.Mutex
	flagged map[moderator.Category]bool
	fail    map[moderator.Category]bool
	calls   []textCall
}

func (f *fakeText) Moderate(_ context.Context, category moderator.Category, transcript, credential string) *moderator.TextVerdict {
	f.mu.Lock()
	f.calls = append(f.calls, textCall{category, transcript, credential})
	f.mu.Unlock()

	v := &moderator.TextVerdict{Category: category, Model: "fake"}
	if f.fail[category] {
		v.Err = &llm.ClassifierError{Reason: "quota exceeded"}
		v.Rows = table.Failure("Error in analysis: quota exceeded")
		return v
	}
	flagged := f.flagged[category]
	v.Flagged = &flagged
	fields := table.Map(
		table.Field{Key: "is_flagged", Value: table.Bool(flagged)},
		table.Field{Key: "severity", Value: table.String("none")},
	)
	v.Rows, _ = table.Normalize(fields.With(moderator.CostKey, table.Map()))
	return v
}

func (f *fakeText) categories() []moderator.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]moderator.Category, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.category
	}
	return out
}

type fakeVisual struct {
	verdict      moderator.VisualVerdict
	calls        int
	frames       int
	wantNSFW     bool
	wantViolence bool
}

func (f *fakeVisual) Moderate(_ context.Context, frames []media.Frame, wantNSFW, wantViolence bool) *moderator.VisualVerdict {
	f.calls++
	f.frames = len(frames)
	f.wantNSFW, f.wantViolence = wantNSFW, wantViolence
	v := f.verdict
	if !wantNSFW {
		v.NSFW = ""
	}
	if !wantViolence {
		v.Violence = ""
	}
	return &v
}

type memUsageRepo struct {
	records []*UsageRecord
	err     error
}

func (r *memUsageRepo) Record(_ context.Context, records []*UsageRecord) error {
	r.records = append(r.records, records...)
	return r.err
}

type fixture struct {
	media  *fakeMedia
	stt    *fakeSTT
	text   *fakeText
	visual *fakeVisual
	usage  *memUsageRepo
	uc     *AnalysisUsecase
}

func newFixture(t *testing.T, config AnalysisConfig) *fixture {
	t.Helper()
	f := &fixture{
		media: &fakeMedia{root: t.TempDir(), frames: 20},
		stt:   &fakeSTT{text: gofakeit.Sentence(8)},
		text:  &fakeText{flagged: map[moderator.Category]bool{}, fail: map[moderator.Category]bool{}},
		visual: &fakeVisual{verdict: moderator.VisualVerdict{
			NSFW:     moderator.LabelSFW,
			Violence: moderator.LabelNonViolence,
		}},
		usage: &memUsageRepo{},
	}
	f.uc = NewAnalysisUsecase(config, f.media, f.stt, f.text, f.visual, f.usage, log.DefaultLogger)
	return f
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), gofakeit.UUID()+"-reel.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func allEnabled(video string) *AnalysisRequest {
	return &AnalysisRequest{
		VideoPath:  video,
		Credential: gofakeit.UUID(),
		Abusive:    true,
		Violent:    true,
		NSFW:       true,
		Political:  true,
		Religious:  true,
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Errorf("%d artifacts left in %s", len(entries), dir)
	}
}

func TestAnalyze_NoDetectionSelected(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	video := writeVideo(t)

	res, err := f.uc.Analyze(context.Background(), &AnalysisRequest{VideoPath: video, Credential: "k"})
	if !errors.Is(err, ErrNoDetectionSelected) {
		t.Fatalf("error = %v; want ErrNoDetectionSelected", err)
	}
	if res.Transcript != "Error: At least one detection option must be selected." {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	for _, c := range moderator.Categories {
		if got := res.Table(c); !reflect.DeepEqual(got, table.Blank()) {
			t.Errorf("%s table = %v; want placeholder", c, got)
		}
	}
	if res.NSFWInfo != "" || res.ViolenceInfo != "" {
		t.Error("visual summaries must be empty")
	}
	if res.Stage != StageErrored {
		t.Errorf("Stage = %s; want errored", res.Stage)
	}
	if f.stt.calls != 0 || len(f.text.calls) != 0 || f.visual.calls != 0 {
		t.Error("no model may run for a rejected request")
	}
}

func TestAnalyze_MediaNotFound(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())

	res, err := f.uc.Analyze(context.Background(), allEnabled(filepath.Join(t.TempDir(), "missing.mp4")))
	if !errors.Is(err, ErrMediaNotFound) {
		t.Fatalf("error = %v; want ErrMediaNotFound", err)
	}
	if res.Transcript != "Error: File not found" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	for _, c := range moderator.Categories {
		if got := res.Table(c); !reflect.DeepEqual(got, table.Blank()) {
			t.Errorf("%s table = %v; want placeholder", c, got)
		}
	}
	if len(f.text.calls) != 0 {
		t.Error("text classifier invoked for missing media")
	}
	assertEmptyDir(t, f.media.root)
}

func TestAnalyze_TranscriptComputedOnceAndShared(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	req := allEnabled(writeVideo(t))

	res, err := f.uc.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if f.stt.calls != 1 {
		t.Errorf("transcriber called %d times; want 1", f.stt.calls)
	}
	if res.Transcript != f.stt.text {
		t.Errorf("Transcript = %q; want %q", res.Transcript, f.stt.text)
	}
	if got := f.text.categories(); !reflect.DeepEqual(got, moderator.Categories) {
		t.Errorf("categories classified = %v; want %v", got, moderator.Categories)
	}
	for _, call := range f.text.calls {
		if call.transcript != f.stt.text {
			t.Errorf("%s received transcript %q", call.category, call.transcript)
		}
		if call.credential != req.Credential {
			t.Errorf("%s received credential %q", call.category, call.credential)
		}
	}
	if res.Stage != StageDone {
		t.Errorf("Stage = %s; want done", res.Stage)
	}
}

func TestAnalyze_DisabledCategories(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())

	res, err := f.uc.Analyze(context.Background(), &AnalysisRequest{
		VideoPath: writeVideo(t),
		Abusive:   true,
		Religious: true,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	want := []moderator.Category{moderator.CategoryAbusive, moderator.CategoryReligious}
	if got := f.text.categories(); !reflect.DeepEqual(got, want) {
		t.Errorf("categories classified = %v; want %v", got, want)
	}
	for _, c := range []moderator.Category{moderator.CategoryViolent, moderator.CategoryNSFW, moderator.CategoryPolitical} {
		if got := res.Table(c); !reflect.DeepEqual(got, table.NotAnalyzed()) {
			t.Errorf("%s table = %v; want not analyzed", c, got)
		}
	}
	if rows := res.Table(moderator.CategoryAbusive); len(rows) != 3 {
		t.Errorf("abusive rows = %d; want 2 fields + cost", len(rows))
	}
	if f.visual.calls != 0 {
		t.Error("visual stage must not run without nsfw or violence")
	}
	if res.NSFWInfo != "" || res.ViolenceInfo != "" {
		t.Error("visual summaries must be empty")
	}
}

func TestAnalyze_ViolenceReconciliation(t *testing.T) {
	tests := []struct {
		name    string
		flagged bool
		failed  bool
		visual  string
		want    string
	}{
		{name: "transcript overrides clean visual", flagged: true, visual: moderator.LabelNonViolence, want: moderator.LabelViolence},
		{name: "transcript overrides violent visual", flagged: false, visual: moderator.LabelViolence, want: moderator.LabelNonViolence},
		{name: "failed text defers to visual", failed: true, visual: moderator.LabelNonViolence, want: moderator.LabelNonViolence},
		{name: "visual error survives", flagged: true, visual: moderator.LabelError, want: moderator.LabelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultAnalysisConfig())
			f.text.flagged[moderator.CategoryViolent] = tt.flagged
			f.text.fail[moderator.CategoryViolent] = tt.failed
			f.visual.verdict.Violence = tt.visual

			res, err := f.uc.Analyze(context.Background(), &AnalysisRequest{VideoPath: writeVideo(t), Violent: true})
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if res.ViolenceInfo != tt.want {
				t.Errorf("ViolenceInfo = %q; want %q", res.ViolenceInfo, tt.want)
			}
			if res.NSFWInfo != "" {
				t.Errorf("NSFWInfo = %q; want empty when not requested", res.NSFWInfo)
			}
			if !f.visual.wantViolence || f.visual.wantNSFW {
				t.Error("only the violence task should be requested")
			}
		})
	}
}

func TestAnalyze_NoArtifactsRemain(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{name: "success", setup: func(*fixture) {}},
		{name: "category errors", setup: func(f *fixture) {
			f.text.fail[moderator.CategoryAbusive] = true
			f.text.fail[moderator.CategoryPolitical] = true
		}},
		{name: "no audio", setup: func(f *fixture) {
			f.media.audioErr = &media.Error{Op: "extract audio", Err: media.ErrNoAudio}
		}},
		{name: "sampling failure", setup: func(f *fixture) {
			f.media.framesErr = errors.New("decoder crashed")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultAnalysisConfig())
			tt.setup(f)
			video := writeVideo(t)

			if _, err := f.uc.Analyze(context.Background(), allEnabled(video)); err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			assertEmptyDir(t, f.media.root)
			if _, err := os.Stat(video); !os.IsNotExist(err) {
				t.Error("source video must be removed")
			}
		})
	}
}

func TestAnalyze_CategoryFailureContained(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.text.fail[moderator.CategoryNSFW] = true

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	want := table.Rows{{"Error", "Error in analysis: quota exceeded"}}
	if got := res.Table(moderator.CategoryNSFW); !reflect.DeepEqual(got, want) {
		t.Errorf("nsfw table = %v; want %v", got, want)
	}
	if len(f.text.calls) != len(moderator.Categories) {
		t.Errorf("classified %d categories; a failure must not stop the rest", len(f.text.calls))
	}
	if res.NSFWInfo != moderator.LabelSFW {
		t.Errorf("NSFWInfo = %q", res.NSFWInfo)
	}
}

func TestAnalyze_NoAudioDegradesToEmptyTranscript(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.media.audioErr = &media.Error{Op: "extract audio", Err: media.ErrNoAudio}

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Transcript != "" {
		t.Errorf("Transcript = %q; want empty", res.Transcript)
	}
	if f.stt.calls != 0 {
		t.Error("transcriber must not run without audio")
	}
	for _, call := range f.text.calls {
		if call.transcript != "" {
			t.Errorf("%s got transcript %q", call.category, call.transcript)
		}
	}
}

func TestAnalyze_TranscriptionFailureDegrades(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.stt.err = errors.New("whisper unavailable")

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Transcript != "" {
		t.Errorf("Transcript = %q; want empty", res.Transcript)
	}
	if len(f.text.calls) != len(moderator.Categories) {
		t.Errorf("classified %d categories", len(f.text.calls))
	}
}

func TestAnalyze_SamplingFailureStillRunsVisualTasks(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.media.framesErr = errors.New("decoder crashed")
	f.visual.verdict = moderator.VisualVerdict{NSFW: moderator.LabelError, Violence: moderator.LabelError}

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if f.visual.calls != 1 || f.visual.frames != 0 {
		t.Errorf("visual calls = %d with %d frames; want 1 with 0", f.visual.calls, f.visual.frames)
	}
	if res.NSFWInfo != moderator.LabelError || res.ViolenceInfo != moderator.LabelError {
		t.Errorf("labels = %q, %q; want Error", res.NSFWInfo, res.ViolenceInfo)
	}
}

func TestAnalyze_WorkspaceFailure(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.media.root = filepath.Join(t.TempDir(), "gone")
	video := writeVideo(t)

	if _, err := f.uc.Analyze(context.Background(), allEnabled(video)); err == nil {
		t.Fatal("expected error when no workspace can be created")
	}
	if _, err := os.Stat(video); !os.IsNotExist(err) {
		t.Error("source video must be removed after validation passed")
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.text.flagged[moderator.CategoryAbusive] = true
	f.text.flagged[moderator.CategoryViolent] = true

	first, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("first Analyze failed: %v", err)
	}
	second, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}

	if first.Transcript != second.Transcript {
		t.Error("transcripts differ")
	}
	if !reflect.DeepEqual(first.Tables, second.Tables) {
		t.Errorf("tables differ:\n%v\n%v", first.Tables, second.Tables)
	}
	if first.NSFWInfo != second.NSFWInfo || first.ViolenceInfo != second.ViolenceInfo {
		t.Error("visual summaries differ")
	}
	if first.RequestID == second.RequestID {
		t.Error("each request needs its own id")
	}
}

func TestAnalyze_ConcurrentTextKeepsAttribution(t *testing.T) {
	f := newFixture(t, AnalysisConfig{TextConcurrency: 3})
	f.text.flagged[moderator.CategoryPolitical] = true

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Verdicts) != len(moderator.Categories) {
		t.Fatalf("verdicts = %d", len(res.Verdicts))
	}
	for i, v := range res.Verdicts {
		if v.Category != moderator.Categories[i] {
			t.Errorf("verdict %d is %s; want %s", i, v.Category, moderator.Categories[i])
		}
		if *v.Flagged != (v.Category == moderator.CategoryPolitical) {
			t.Errorf("%s flagged = %v", v.Category, *v.Flagged)
		}
	}
}

func TestAnalyze_RecordsUsage(t *testing.T) {
	f := newFixture(t, DefaultAnalysisConfig())
	f.text.fail[moderator.CategoryReligious] = true
	f.usage.err = errors.New("ledger down")

	res, err := f.uc.Analyze(context.Background(), allEnabled(writeVideo(t)))
	if err != nil {
		t.Fatalf("ledger failure must not fail the request: %v", err)
	}
	if len(f.usage.records) != len(moderator.Categories) {
		t.Fatalf("records = %d; want one per category", len(f.usage.records))
	}
	for _, r := range f.usage.records {
		if r.RequestID != res.RequestID {
			t.Errorf("record request id = %q; want %q", r.RequestID, res.RequestID)
		}
		want := "ok"
		if r.Category == string(moderator.CategoryReligious) {
			want = "classifier_error"
		}
		if r.Status != want {
			t.Errorf("%s status = %q; want %q", r.Category, r.Status, want)
		}
	}
}
