package webrtc

import (
	"errors"
	"io"
	"strings"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const maxPacketSize = 1500

// remoteTrack wraps a received pion track and keeps its RTP and RTCP flowing
// into metrics.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	kind     domain.TrackKind
	metrics  ports.MediaMetrics
	logger   *zap.SugaredLogger
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, metrics ports.MediaMetrics, logger *zap.SugaredLogger) *remoteTrack {
	kind := domain.TrackKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackKindVideo
	}
	return &remoteTrack{
		track:    track,
		receiver: receiver,
		kind:     kind,
		metrics:  metrics,
		logger:   logger,
	}
}

func (t *remoteTrack) ID() string             { return t.track.ID() }
func (t *remoteTrack) StreamID() string       { return t.track.StreamID() }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) start() {
	t.logger.Infow("remote track started",
		"track_id", t.track.ID(),
		"stream_id", t.track.StreamID(),
		"codec", t.track.Codec().MimeType,
	)
	go t.readRTP()
	go t.readRTCP()
}

func (t *remoteTrack) readRTP() {
	buf := make([]byte, maxPacketSize)
	packet := &rtp.Packet{}
	isVP8 := strings.EqualFold(t.track.Codec().MimeType, webrtc.MimeTypeVP8)

	for {
		n, _, err := t.track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debugw("remote track read ended", "track_id", t.track.ID(), "error", err)
			}
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("dropping malformed RTP packet", "track_id", t.track.ID(), "error", err)
			continue
		}

		t.metrics.RecordRTPPacket(t.kind, n)
		if isVP8 && isVP8Keyframe(packet.Payload) {
			t.metrics.RecordKeyframe(t.kind)
		}
	}
}

func (t *remoteTrack) readRTCP() {
	for {
		packets, _, err := t.receiver.ReadRTCP()
		if err != nil {
			return
		}
		recordRTCP(t.metrics, t.kind, packets)
	}
}

// isVP8Keyframe reports whether payload starts a VP8 key frame: the first
// partition of a frame whose header has the inverse key frame bit cleared.
func isVP8Keyframe(payload []byte) bool {
	var vp8 codecs.VP8Packet
	frame, err := vp8.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	if vp8.S != 1 || vp8.PID != 0 {
		return false
	}
	return frame[0]&0x01 == 0
}
