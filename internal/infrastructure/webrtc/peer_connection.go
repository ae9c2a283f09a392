package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LocalTrack is a domain track that can hand its pion sample track to a peer connection.
type LocalTrack interface {
	domain.MediaTrack
	TrackLocal() webrtc.TrackLocal
}

type peerConnection struct {
	pc      *webrtc.PeerConnection
	metrics ports.MediaMetrics
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	receiveSet bool
}

func newPeerConnection(pc *webrtc.PeerConnection, metrics ports.MediaMetrics, logger *zap.SugaredLogger) *peerConnection {
	return &peerConnection{pc: pc, metrics: metrics, logger: logger}
}

// AddTrack attaches a local track on a send-only transceiver.
func (p *peerConnection) AddTrack(track domain.MediaTrack, source domain.MediaSource) error {
	local, ok := track.(LocalTrack)
	if !ok {
		return fmt.Errorf("track %s: %w", track.ID(), domain.ErrUnsupportedTrack)
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(local.TrackLocal(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}

	p.logger.Debugw("local track attached",
		"track_id", track.ID(),
		"kind", track.Kind(),
		"source_id", sourceID(source),
	)

	go p.readSenderRTCP(transceiver.Sender(), track.Kind())
	return nil
}

func (p *peerConnection) CreateDataChannel(label string) (ports.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return newDataChannel(dc), nil
}

// CreateOffer adds receive-only transceivers for the requested kinds before
// the first offer and returns the generated offer.
func (p *peerConnection) CreateOffer(opts ports.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	if !p.receiveSet {
		p.receiveSet = true
		var kinds []webrtc.RTPCodecType
		if opts.ReceiveAudio {
			kinds = append(kinds, webrtc.RTPCodecTypeAudio)
		}
		if opts.ReceiveVideo {
			kinds = append(kinds, webrtc.RTPCodecTypeVideo)
		}
		for _, kind := range kinds {
			if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				p.mu.Unlock()
				return webrtc.SessionDescription{}, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if sections, err := DescribeSDP(offer.SDP); err == nil {
		p.logger.Debugw("offer created", "media", sections)
	}
	return offer, nil
}

func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(candidate domain.Candidate) error {
	p.logger.Debugw("applying remote candidate", "candidate_type", CandidateType(candidate.Candidate))
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

// OnICECandidate reports gathered candidates. The end-of-gathering nil
// candidate is not forwarded.
func (p *peerConnection) OnICECandidate(handler func(domain.Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		handler(domain.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *peerConnection) OnTrack(handler func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		remote := newRemoteTrack(track, receiver, p.metrics, p.logger)
		remote.start()
		handler(remote)
	})
}

func (p *peerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(handler)
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

// readSenderRTCP drains receiver reports about our outbound media. Interceptors
// only run while RTCP is read.
func (p *peerConnection) readSenderRTCP(sender *webrtc.RTPSender, kind domain.TrackKind) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debugw("sender RTCP loop ended", "kind", kind, "error", err)
			}
			return
		}
		recordRTCP(p.metrics, kind, packets)
	}
}

// recordRTCP feeds loss and jitter from reception reports into metrics.
func recordRTCP(metrics ports.MediaMetrics, kind domain.TrackKind, packets []rtcp.Packet) {
	for _, packet := range packets {
		var reports []rtcp.ReceptionReport
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			reports = p.Reports
		case *rtcp.SenderReport:
			reports = p.Reports
		}
		for _, report := range reports {
			metrics.RecordReceptionReport(kind, float64(report.FractionLost)/256.0, report.Jitter)
		}
	}
}

func sourceID(source domain.MediaSource) string {
	if source == nil {
		return ""
	}
	return source.ID()
}
