package media

import (
	"context"
	"errors"
	"fmt"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"go.uber.org/zap"
)

var ErrNoDevice = errors.New("no capture device for requested media")

type AcquirerConfig struct {
	AnalysisBufferSize int
	// Audio and Video tell which capture kinds the host can feed.
	Audio bool
	Video bool
}

// Acquirer builds sample-fed sources for the capabilities the host supports.
type Acquirer struct {
	cfg    AcquirerConfig
	logger *zap.SugaredLogger
	// OnAcquire is called with every new source so the host can start feeding it.
	OnAcquire func(*LocalSource)
}

var _ ports.MediaAcquirer = (*Acquirer)(nil)

func NewAcquirer(cfg AcquirerConfig, logger *zap.SugaredLogger) *Acquirer {
	if cfg.AnalysisBufferSize <= 0 {
		cfg.AnalysisBufferSize = DefaultAnalysisBufferSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Acquirer{cfg: cfg, logger: logger}
}

func (a *Acquirer) Acquire(ctx context.Context, constraints domain.MediaConstraints) (domain.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.Audio && !a.cfg.Audio {
		return nil, fmt.Errorf("audio: %w", ErrNoDevice)
	}
	if constraints.Video && !a.cfg.Video {
		return nil, fmt.Errorf("video: %w", ErrNoDevice)
	}

	source, err := NewLocalSource(constraints, a.cfg.AnalysisBufferSize)
	if err != nil {
		return nil, err
	}

	a.logger.Infow("media source acquired",
		"source_id", source.ID(),
		"audio", constraints.Audio,
		"video", constraints.Video,
	)
	if a.OnAcquire != nil {
		a.OnAcquire(source)
	}
	return source, nil
}
