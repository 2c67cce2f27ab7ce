package violence

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/protobuf/types/known/structpb"

	"reelguard/internal/pkg/runner"
	"reelguard/internal/pkg/runner/runnertest"
)

func makeFrames(n, step int) []Frame {
	out := make([]Frame, n)
	for i := range out {
		out[i] = Frame{Index: i * step, Image: []byte{byte(i)}}
	}
	return out
}

func TestSelectWindow(t *testing.T) {
	tests := []struct {
		name        string
		frames      []Frame
		wantLen     int
		wantPadding int
		wantLast    int
	}{
		{name: "long video fills window", frames: makeFrames(1000, 1), wantLen: 30, wantPadding: 0, wantLast: 29 * 15},
		{name: "short video is padded", frames: makeFrames(100, 1), wantLen: 7, wantPadding: 23, wantLast: 90},
		{name: "single frame", frames: makeFrames(1, 1), wantLen: 1, wantPadding: 29, wantLast: 0},
		{name: "sampled every 5th", frames: makeFrames(40, 5), wantLen: 14, wantPadding: 16, wantLast: 195},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, padding := SelectWindow(tt.frames, 30, 15)
			if len(window) != tt.wantLen || padding != tt.wantPadding {
				t.Fatalf("window=%d padding=%d; want %d/%d", len(window), padding, tt.wantLen, tt.wantPadding)
			}
			if window[len(window)-1].Index != tt.wantLast {
				t.Errorf("last index = %d; want %d", window[len(window)-1].Index, tt.wantLast)
			}
			for _, f := range window {
				if f.Index%15 != 0 {
					t.Errorf("frame %d is off-stride", f.Index)
				}
			}
		})
	}
}

func TestSelectWindow_Empty(t *testing.T) {
	window, padding := SelectWindow(nil, 30, 15)
	if len(window) != 0 || padding != 30 {
		t.Errorf("window=%d padding=%d", len(window), padding)
	}
}

func TestClient_Classify(t *testing.T) {
	var got *structpb.Struct
	srv := runnertest.Start(t, func(method string, req *structpb.Struct) (*structpb.Struct, error) {
		got = req
		return structpb.NewStruct(map[string]any{"label": "Violence"})
	})
	client := NewClient(srv.Dial(t, runner.DefaultConfig("")), Config{WeightsPath: "/models/video_classifier.pth"}, log.DefaultLogger)

	label, err := client.Classify(context.Background(), makeFrames(60, 1))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if label != LabelViolence {
		t.Errorf("label = %q", label)
	}

	fields := got.GetFields()
	if n := len(fields["frames"].GetListValue().GetValues()); n != 4 {
		t.Errorf("sent %d frames; want 4", n)
	}
	if p := fields["padding"].GetNumberValue(); p != 26 {
		t.Errorf("padding = %v; want 26", p)
	}
	if fields["weights_path"].GetStringValue() != "/models/video_classifier.pth" {
		t.Errorf("weights_path = %v", fields["weights_path"])
	}
}

func TestClient_Classify_NoFrames(t *testing.T) {
	client := NewClient(nil, DefaultConfig(), log.DefaultLogger)
	if _, err := client.Classify(context.Background(), nil); !errors.Is(err, ErrNoFrames) {
		t.Errorf("error = %v; want ErrNoFrames", err)
	}
}

func TestClient_Classify_UnexpectedLabel(t *testing.T) {
	srv := runnertest.Start(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"label": "Maybe"})
	})
	client := NewClient(srv.Dial(t, runner.DefaultConfig("")), DefaultConfig(), log.DefaultLogger)

	if _, err := client.Classify(context.Background(), makeFrames(1, 1)); err == nil {
		t.Error("expected error for unknown label")
	}
}
