package ports

import (
	"context"

	"relaylink/internal/core/domain"
)

// MediaAcquirer turns a capability request into a concrete local source.
type MediaAcquirer interface {
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (domain.MediaSource, error)
}

// AudioAnalyser exposes the most recent time-domain window of an audio source as
// unsigned 8-bit samples, where 128 is zero deflection.
type AudioAnalyser interface {
	// ByteTimeDomainData fills dst with the newest samples and returns how many were written.
	ByteTimeDomainData(dst []byte) int
	BufferSize() int
}

// AnalysableSource is implemented by sources that can feed an audio level detector.
type AnalysableSource interface {
	AudioAnalyser() AudioAnalyser
}
