package moderator

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"reelguard/internal/pkg/nsfw"
	"reelguard/internal/pkg/violence"
)

// Models is the process-wide registry of dialled model runners. It is built
// once at startup and only read afterwards.
type Models struct {
	NSFW     []*nsfw.ImageClient
	Violence *violence.Client
	log      *log.Helper
}

// NewModels creates a new Models.
func NewModels(members []*nsfw.ImageClient, v *violence.Client, logger log.Logger) *Models {
	return &Models{
		NSFW:     members,
		Violence: v,
		log:      log.NewHelper(logger),
	}
}

// FrameClassifiers returns the NSFW ensemble members.
func (m *Models) FrameClassifiers() []FrameClassifier {
	out := make([]FrameClassifier, len(m.NSFW))
	for i, c := range m.NSFW {
		out[i] = c
	}
	return out
}

// ViolenceClassifier returns the violence runner, or nil when none is configured.
func (m *Models) ViolenceClassifier() ViolenceClassifier {
	if m.Violence == nil {
		return nil
	}
	return m.Violence
}

// Releasers returns every runner that holds model memory.
func (m *Models) Releasers() []Releaser {
	out := make([]Releaser, 0, len(m.NSFW)+1)
	for _, c := range m.NSFW {
		out = append(out, c)
	}
	if m.Violence != nil {
		out = append(out, m.Violence)
	}
	return out
}

// Check pings every runner and logs the outcome. It returns the joined
// failures; an unhealthy runner is not fatal.
func (m *Models) Check(ctx context.Context) error {
	var errs []error
	for _, c := range m.NSFW {
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("nsfw %s: %w", c.Name(), err))
			m.log.Warnf("nsfw runner %s not ready: %v", c.Name(), err)
			continue
		}
		m.log.Infof("nsfw runner %s ready", c.Name())
	}
	if m.Violence != nil {
		if err := m.Violence.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("violence: %w", err))
			m.log.Warnf("violence runner not ready: %v", err)
		} else {
			m.log.Info("violence runner ready")
		}
	} else {
		m.log.Warn("violence runner not configured")
	}
	return errors.Join(errs...)
}
