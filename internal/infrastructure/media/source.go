package media

import (
	"fmt"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/google/uuid"
)

// LocalSource groups the tracks published together. Audio sources carry an
// analyser fed with the PCM the host captures.
type LocalSource struct {
	id       string
	tracks   []domain.MediaTrack
	analyser *Analyser
}

var (
	_ domain.MediaSource     = (*LocalSource)(nil)
	_ ports.AnalysableSource = (*LocalSource)(nil)
)

// NewLocalSource creates one track per requested kind.
func NewLocalSource(constraints domain.MediaConstraints, analysisBufferSize int) (*LocalSource, error) {
	s := &LocalSource{id: uuid.NewString()}

	if constraints.Audio {
		track, err := NewLocalTrack(domain.TrackKindAudio, s.id)
		if err != nil {
			return nil, err
		}
		s.analyser = NewAnalyser(analysisBufferSize)
		track.onStop = s.analyser.Reset
		s.tracks = append(s.tracks, track)
	}
	if constraints.Video {
		track, err := NewLocalTrack(domain.TrackKindVideo, s.id)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.tracks = append(s.tracks, track)
	}
	return s, nil
}

func (s *LocalSource) ID() string                  { return s.id }
func (s *LocalSource) Tracks() []domain.MediaTrack { return s.tracks }

// AudioAnalyser returns nil for sources without audio.
func (s *LocalSource) AudioAnalyser() ports.AudioAnalyser {
	if s.analyser == nil {
		return nil
	}
	return s.analyser
}

// Track returns the first track of kind.
func (s *LocalSource) Track(kind domain.TrackKind) (*LocalTrack, bool) {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			lt, ok := t.(*LocalTrack)
			return lt, ok
		}
	}
	return nil, false
}

// FeedPCM hands captured 16-bit PCM to the level analyser. Disabled or stopped
// audio tracks feed silence.
func (s *LocalSource) FeedPCM(samples []int16) error {
	track, ok := s.Track(domain.TrackKindAudio)
	if !ok || s.analyser == nil {
		return fmt.Errorf("source %s has no audio track", s.id)
	}
	if track.Stopped() {
		return ErrTrackStopped
	}
	if !track.Enabled() {
		s.analyser.WriteSilence(len(samples))
		return nil
	}
	s.analyser.WritePCM(samples)
	return nil
}

func (s *LocalSource) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
