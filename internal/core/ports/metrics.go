package ports

import (
	"time"

	"relaylink/internal/core/domain"
)

// SessionMetrics receives orchestrator measurements.
type SessionMetrics interface {
	RecordStreamOpened(direction domain.Direction, kind domain.MediaKind)
	RecordStreamClosed(direction domain.Direction, kind domain.MediaKind)
	RecordCandidateQueued()
	RecordCandidatesDrained(n int)
	RecordCandidateApplied(direction domain.Direction)
	RecordWorkflowFailure(workflow string, reason string)
	RecordSignalingCall(method string, duration time.Duration, err error)
	RecordAudioLevelChange(level domain.AudioLevel)
}

// MediaMetrics receives per-track transport measurements from the engine.
type MediaMetrics interface {
	RecordRTPPacket(kind domain.TrackKind, size int)
	RecordKeyframe(kind domain.TrackKind)
	RecordReceptionReport(kind domain.TrackKind, fractionLost float64, jitter uint32)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordStreamOpened(domain.Direction, domain.MediaKind)   {}
func (NopMetrics) RecordStreamClosed(domain.Direction, domain.MediaKind)   {}
func (NopMetrics) RecordCandidateQueued()                                  {}
func (NopMetrics) RecordCandidatesDrained(int)                             {}
func (NopMetrics) RecordCandidateApplied(domain.Direction)                 {}
func (NopMetrics) RecordWorkflowFailure(string, string)                    {}
func (NopMetrics) RecordSignalingCall(string, time.Duration, error)        {}
func (NopMetrics) RecordAudioLevelChange(domain.AudioLevel)                {}
func (NopMetrics) RecordRTPPacket(domain.TrackKind, int)                   {}
func (NopMetrics) RecordKeyframe(domain.TrackKind)                         {}
func (NopMetrics) RecordReceptionReport(domain.TrackKind, float64, uint32) {}
