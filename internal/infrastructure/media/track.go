package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"relaylink/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

var ErrTrackStopped = errors.New("track stopped")

// LocalTrack is a sample-fed outbound track. Samples written while the track
// is disabled are dropped.
type LocalTrack struct {
	id     string
	kind   domain.TrackKind
	sample *webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	onStop   func()
}

// NewLocalTrack creates an opus audio or VP8 video track labelled with streamLabel.
func NewLocalTrack(kind domain.TrackKind, streamLabel string) (*LocalTrack, error) {
	var mime string
	switch kind {
	case domain.TrackKindAudio:
		mime = webrtc.MimeTypeOpus
	case domain.TrackKindVideo:
		mime = webrtc.MimeTypeVP8
	default:
		return nil, fmt.Errorf("track kind %q: %w", kind, domain.ErrUnsupportedTrack)
	}

	id := fmt.Sprintf("%s-%s", kind, uuid.NewString())
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamLabel)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &LocalTrack{id: id, kind: kind, sample: sample}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string                    { return t.id }
func (t *LocalTrack) Kind() domain.TrackKind        { return t.kind }
func (t *LocalTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *LocalTrack) Stopped() bool                 { return t.stopped.Load() }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.sample }

// WriteSample sends one encoded frame.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.sample.WriteSample(s)
}

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		if t.onStop != nil {
			t.onStop()
		}
	})
}
