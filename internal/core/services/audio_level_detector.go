package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"go.uber.org/zap"
)

// DetectorConfig tunes the audio level detector. Zero fields take the defaults.
type DetectorConfig struct {
	// TimeThreshold is how long the signal must stay quiet before SILENT is reported.
	TimeThreshold time.Duration `yaml:"time_threshold"`
	// SilenceThreshold is the amplitude below which a sample counts as silent.
	SilenceThreshold float64 `yaml:"amplitude_threshold"`
	// HighThreshold is the amplitude at or above which a sample counts as loud.
	HighThreshold   float64       `yaml:"high_amplitude_threshold"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	MaxEmitInterval time.Duration `yaml:"max_emit_interval"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TimeThreshold:    500 * time.Millisecond,
		SilenceThreshold: 0.2,
		HighThreshold:    0.5,
		SampleInterval:   100 * time.Millisecond,
		MaxEmitInterval:  500 * time.Millisecond,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	def := DefaultDetectorConfig()
	if c.TimeThreshold <= 0 {
		c.TimeThreshold = def.TimeThreshold
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = def.SilenceThreshold
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = def.HighThreshold
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = def.SampleInterval
	}
	if c.MaxEmitInterval <= 0 {
		c.MaxEmitInterval = def.MaxEmitInterval
	}
	return c
}

// Validate rejects threshold combinations that cannot classify anything as LOW.
func (c DetectorConfig) Validate() error {
	c = c.withDefaults()
	if c.SilenceThreshold >= c.HighThreshold {
		return fmt.Errorf("amplitude threshold %.2f must be below high amplitude threshold %.2f", c.SilenceThreshold, c.HighThreshold)
	}
	return nil
}

// AudioLevelDetector classifies a local audio source as SILENT, LOW or HIGH.
//
// Every sample of every analysis window is classified and then run through the
// emission policy, so a single window may produce several notifications. Drops to
// SILENT are debounced by TimeThreshold; notifications are rate limited by
// MaxEmitInterval except for transitions to HIGH.
type AudioLevelDetector struct {
	cfg      DetectorConfig
	analyser ports.AudioAnalyser
	logger   *zap.SugaredLogger
	now      func() time.Time

	current       domain.AudioLevel
	previous      domain.AudioLevel
	activityStart time.Time
	lastEmit      time.Time
	onChange      func(domain.AudioLevel)
	buf           []byte
	mu            sync.Mutex

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewAudioLevelDetector builds a detector over analyser. analyser may be nil when
// samples are pushed through Process.
func NewAudioLevelDetector(analyser ports.AudioAnalyser, cfg DetectorConfig, logger *zap.SugaredLogger) *AudioLevelDetector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	size := 2048
	if analyser != nil && analyser.BufferSize() > 0 {
		size = analyser.BufferSize()
	}
	return &AudioLevelDetector{
		cfg:      cfg.withDefaults(),
		analyser: analyser,
		logger:   logger,
		now:      time.Now,
		current:  domain.AudioLevelSilent,
		buf:      make([]byte, size),
	}
}

// OnLevelChange registers the level change observer, replacing any previous one.
func (d *AudioLevelDetector) OnLevelChange(fn func(domain.AudioLevel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Level returns the current classification.
func (d *AudioLevelDetector) Level() domain.AudioLevel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// NormalizeSample maps an unsigned 8-bit sample onto [0, 2], with 1.0 as zero deflection.
func (d *AudioLevelDetector) NormalizeSample(sample int) float64 {
	return float64(sample) / 128
}

// AnalyseSample classifies one normalized sample at the current time.
func (d *AudioLevelDetector) AnalyseSample(normalized float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classify(normalized, d.now())
}

// EmitCurrentLevel applies the emission policy at the current time.
func (d *AudioLevelDetector) EmitCurrentLevel() {
	d.mu.Lock()
	level, emitted := d.emit(d.now())
	fn := d.onChange
	d.mu.Unlock()

	if emitted && fn != nil {
		fn(level)
	}
}

// Process classifies a window of unsigned 8-bit samples taken at one instant.
func (d *AudioLevelDetector) Process(window []byte) {
	d.mu.Lock()
	now := d.now()
	var changes []domain.AudioLevel
	for _, sample := range window {
		d.classify(float64(sample)/128, now)
		if level, emitted := d.emit(now); emitted {
			changes = append(changes, level)
		}
	}
	fn := d.onChange
	d.mu.Unlock()

	if fn == nil {
		return
	}
	for _, level := range changes {
		fn(level)
	}
}

// Start polls the analyser every SampleInterval until ctx ends or Stop is called.
func (d *AudioLevelDetector) Start(ctx context.Context) error {
	if d.analyser == nil {
		return fmt.Errorf("audio level detector has no analyser")
	}

	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return fmt.Errorf("audio level detector already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.SampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := d.analyser.ByteTimeDomainData(d.buf)
				d.Process(d.buf[:n])
			}
		}
	}()

	d.logger.Debugw("audio level detector started",
		"sample_interval", d.cfg.SampleInterval,
		"buffer_size", len(d.buf),
	)
	return nil
}

// Stop ends the polling loop and waits for it. Safe to call more than once.
func (d *AudioLevelDetector) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		cancel, done := d.cancel, d.done
		d.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}

func (d *AudioLevelDetector) classify(normalized float64, now time.Time) {
	amplitude := math.Abs(normalized - 1.0)

	switch {
	case amplitude >= d.cfg.HighThreshold:
		d.activityStart = now
		d.current = domain.AudioLevelHigh
	case amplitude >= d.cfg.SilenceThreshold:
		d.activityStart = now
		d.current = domain.AudioLevelLow
	default:
		if now.Sub(d.activityStart) > d.cfg.TimeThreshold {
			d.current = domain.AudioLevelSilent
		}
	}
}

func (d *AudioLevelDetector) emit(now time.Time) (domain.AudioLevel, bool) {
	if d.current == d.previous {
		return d.current, false
	}
	if d.current != domain.AudioLevelHigh && now.Sub(d.lastEmit) < d.cfg.MaxEmitInterval {
		return d.current, false
	}
	d.previous = d.current
	d.lastEmit = now
	return d.current, true
}
