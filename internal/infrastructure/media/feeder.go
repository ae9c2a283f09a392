package media

import (
	"context"
	"errors"
	"time"

	"relaylink/internal/core/domain"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// FrameDuration is the packetisation interval used by the feeder.
const FrameDuration = 20 * time.Millisecond

// opusSilence is a single opus frame carrying digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FeedSilence keeps a source's audio path alive until ctx ends or the audio
// track stops. Each frame writes an opus silence sample and feeds the analyser
// sampleRate*FrameDuration silent PCM samples.
func FeedSilence(ctx context.Context, source *LocalSource, sampleRate int) error {
	track, ok := source.Track(domain.TrackKindAudio)
	if !ok {
		return nil
	}

	pcm := make([]int16, sampleRate*int(FrameDuration/time.Millisecond)/1000)
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := source.FeedPCM(pcm); err != nil {
			if errors.Is(err, ErrTrackStopped) {
				return nil
			}
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: FrameDuration}); err != nil {
			if errors.Is(err, ErrTrackStopped) {
				return nil
			}
			return err
		}
	}
}
