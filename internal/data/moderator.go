package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/biz"
	"reelguard/internal/conf"
	"reelguard/internal/pkg/cost"
	"reelguard/internal/pkg/llm"
	"reelguard/internal/pkg/media"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/nsfw"
	"reelguard/internal/pkg/runner"
	"reelguard/internal/pkg/stt"
	"reelguard/internal/pkg/violence"
)

const runnerCheckTimeout = 5 * time.Second

// NewModels dials every configured runner and logs its readiness. An
// unreachable runner is not fatal; its task reports an error per video.
func NewModels(mc *conf.Moderation, logger log.Logger) (*moderator.Models, func(), error) {
	helper := log.NewHelper(logger)

	var conns []*runner.Conn
	closeAll := func() {
		for _, c := range conns {
			if err := c.Close(); err != nil {
				helper.Warnf("failed to close runner %s: %v", c.Address(), err)
			}
		}
	}

	nsfwConf := mc.GetNSFW()
	var members []*nsfw.ImageClient
	for _, m := range nsfwConf.GetMembers() {
		if m.Addr == "" {
			helper.Warnf("nsfw member %q has no address, skipping", m.Name)
			continue
		}
		cfg := runner.DefaultConfig(m.Addr)
		if d := nsfwConf.GetTimeout().AsDuration(); d > 0 {
			cfg.Timeout = d
		}
		conn, err := runner.Dial(cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conns = append(conns, conn)
		members = append(members, nsfw.NewImageClient(conn, memberConfig(m), logger))
		helper.Infof("nsfw member %s dialled at %s", m.Name, m.Addr)
	}
	if len(members) == 0 {
		helper.Warn("no nsfw members configured, nsfw detection unavailable")
	}

	var vc *violence.Client
	if v := mc.GetViolence(); v != nil && v.Addr != "" {
		cfg := runner.DefaultConfig(v.Addr)
		if d := v.Timeout.AsDuration(); d > 0 {
			cfg.Timeout = d
		}
		conn, err := runner.Dial(cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conns = append(conns, conn)
		vc = violence.NewClient(conn, violenceConfig(v), logger)
		helper.Infof("violence runner dialled at %s", v.Addr)
	}

	models := moderator.NewModels(members, vc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), runnerCheckTimeout)
	defer cancel()
	if err := models.Check(ctx); err != nil {
		helper.Warnf("some runners are not ready: %v", err)
	}

	cleanup := func() {
		helper.Info("closing runner connections")
		closeAll()
	}
	return models, cleanup, nil
}

// memberConfig overlays a configured member on the built-in member of the
// same name.
func memberConfig(m *conf.NSFWMember) nsfw.MemberConfig {
	cfg := nsfw.MemberConfig{Name: m.Name, Decision: nsfw.DecisionLabel}
	for _, d := range nsfw.DefaultMembers() {
		if d.Name == m.Name {
			cfg = d
			break
		}
	}
	if m.Model != "" {
		cfg.Model = m.Model
	}
	if m.Decision != "" {
		cfg.Decision = nsfw.Decision(strings.ToLower(m.Decision))
	}
	if len(m.UnsafeLabels) > 0 {
		cfg.UnsafeLabels = m.UnsafeLabels
	}
	if m.ScoreThreshold > 0 {
		cfg.ScoreThreshold = m.ScoreThreshold
	}
	if m.BatchSize > 0 {
		cfg.BatchSize = m.BatchSize
	}
	return cfg
}

func violenceConfig(v *conf.Violence) violence.Config {
	cfg := violence.DefaultConfig()
	if v.Model != "" {
		cfg.Model = v.Model
	}
	if v.WeightsPath != "" {
		cfg.WeightsPath = v.WeightsPath
	}
	if v.Frames > 0 {
		cfg.Frames = v.Frames
	}
	if v.Stride > 0 {
		cfg.Stride = v.Stride
	}
	return cfg
}

// NewPreparer creates the ffmpeg media preparer. A missing ffmpeg binary
// aborts startup.
func NewPreparer(mc *conf.Moderation, logger log.Logger) (*media.Preparer, error) {
	cfg := media.DefaultConfig()
	if m := mc.GetMedia(); m != nil {
		if m.FFmpegPath != "" {
			cfg.FFmpegPath = m.FFmpegPath
		}
		if m.WorkDir != "" {
			cfg.WorkDir = m.WorkDir
		}
		if m.FrameInterval > 0 {
			cfg.FrameInterval = m.FrameInterval
		}
		if d := m.Timeout.AsDuration(); d > 0 {
			cfg.Timeout = d
		}
	}
	p, err := media.NewPreparer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if stride := mc.GetViolence().GetStride(); stride > 0 && stride%cfg.FrameInterval != 0 {
		log.NewHelper(logger).Warnf("frame interval %d does not divide violence stride %d, the violence window will be short", cfg.FrameInterval, stride)
	}
	return p, nil
}

// NewTranscriber creates the Whisper transcription client.
func NewTranscriber(mc *conf.Moderation, logger log.Logger) *stt.WhisperClient {
	cfg := stt.DefaultWhisperConfig()
	if t := mc.GetTranscriber(); t != nil {
		if t.BaseURL != "" {
			cfg.BaseURL = t.BaseURL
		}
		if t.APIKey != "" {
			cfg.APIKey = t.APIKey
		}
		if t.Model != "" {
			cfg.Model = t.Model
		}
		if t.Language != "" {
			cfg.Language = t.Language
		}
		if d := t.Timeout.AsDuration(); d > 0 {
			cfg.Timeout = d
		}
	}
	return stt.NewWhisperClient(cfg, logger)
}

// NewTextModerator selects the text backend and wraps it with the verdict
// cache and price table.
func NewTextModerator(mc *conf.Moderation, cache moderator.VerdictCache, logger log.Logger) (*moderator.TextModerator, error) {
	client, err := newLLMClient(mc.GetText())
	if err != nil {
		return nil, err
	}
	log.NewHelper(logger).Infof("text classifier %s", client.Model())

	cc := llm.DefaultClassifierConfig()
	if d := mc.GetText().GetTimeout().AsDuration(); d > 0 {
		cc.Timeout = d
	}
	return moderator.NewTextModerator(llm.NewClassifier(client, cc), cache, cost.DefaultPricing(), logger), nil
}

func newLLMClient(t *conf.Text) (llm.Client, error) {
	backend := "openai"
	if t != nil && t.Backend != "" {
		backend = strings.ToLower(t.Backend)
	}

	switch backend {
	case "openai":
		cfg := llm.DefaultOpenAIConfig()
		if t != nil {
			overlay(&cfg.BaseURL, t.BaseURL)
			overlay(&cfg.Model, t.Model)
			overlay(&cfg.APIKey, t.APIKey)
			if t.MaxTokens > 0 {
				cfg.MaxTokens = t.MaxTokens
			}
		}
		return llm.NewOpenAIClient(cfg), nil
	case "vllm":
		cfg := llm.DefaultVLLMConfig()
		if t != nil {
			overlay(&cfg.BaseURL, t.BaseURL)
			overlay(&cfg.Model, t.Model)
			overlay(&cfg.APIKey, t.APIKey)
			if t.MaxTokens > 0 {
				cfg.MaxTokens = t.MaxTokens
			}
		}
		return llm.NewVLLMClient(cfg), nil
	case "ollama":
		cfg := llm.DefaultOllamaConfig()
		if t != nil {
			overlay(&cfg.BaseURL, t.BaseURL)
			overlay(&cfg.Model, t.Model)
			if t.MaxTokens > 0 {
				cfg.MaxTokens = t.MaxTokens
			}
		}
		return llm.NewOllamaClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown text backend %q", backend)
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// NewNSFWEnsemble creates the frame ensemble over the registered members.
func NewNSFWEnsemble(mc *conf.Moderation, models *moderator.Models, cache moderator.FrameLabelCache, logger log.Logger) *moderator.NSFWEnsemble {
	cfg := moderator.DefaultNSFWConfig()
	if n := mc.GetNSFW(); n != nil {
		if n.Threshold > 0 {
			cfg.Threshold = n.Threshold
		}
		if n.Workers > 0 {
			cfg.Workers = n.Workers
		}
	}
	return moderator.NewNSFWEnsemble(cfg, models.FrameClassifiers(), cache, logger)
}

// NewVideoModerator creates the visual stage.
func NewVideoModerator(mc *conf.Moderation, ensemble *moderator.NSFWEnsemble, models *moderator.Models, logger log.Logger) *moderator.VideoModerator {
	cfg := moderator.DefaultVideoModeratorConfig()
	if v := mc.GetViolence(); v != nil {
		if v.Frames > 0 {
			cfg.WindowFrames = v.Frames
		}
		if v.Stride > 0 {
			cfg.WindowStride = v.Stride
		}
	}
	return moderator.NewVideoModerator(cfg, ensemble, models.ViolenceClassifier(), models.Releasers(), logger)
}

// NewAnalysisConfig reads the pipeline settings.
func NewAnalysisConfig(mc *conf.Moderation) biz.AnalysisConfig {
	cfg := biz.DefaultAnalysisConfig()
	if n := mc.GetText().GetConcurrency(); n > 0 {
		cfg.TextConcurrency = n
	}
	return cfg
}
