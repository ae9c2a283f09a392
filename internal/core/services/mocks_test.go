package services

import (
	"context"
	"fmt"
	"sync"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
)

type MockSignalingClient struct {
	mock.Mock

	mu      sync.Mutex
	handler func(domain.SignalEvent)
}

func (m *MockSignalingClient) Connect(ctx context.Context, auth domain.AuthParams, opts domain.ConnectOptions) error {
	args := m.Called(ctx, auth, opts)
	return args.Error(0)
}

func (m *MockSignalingClient) Publish(ctx context.Context, sdpOffer string) (*domain.PublishResponse, error) {
	args := m.Called(ctx, sdpOffer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PublishResponse), args.Error(1)
}

func (m *MockSignalingClient) Unpublish(ctx context.Context, streamID domain.StreamID) error {
	args := m.Called(ctx, streamID)
	return args.Error(0)
}

func (m *MockSignalingClient) Subscribe(ctx context.Context, streamID domain.StreamID, sdpOffer string) (*domain.SubscribeResponse, error) {
	args := m.Called(ctx, streamID, sdpOffer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SubscribeResponse), args.Error(1)
}

func (m *MockSignalingClient) SendIceCandidate(ctx context.Context, streamID domain.StreamID, candidate domain.Candidate, role domain.CandidateRole) error {
	args := m.Called(ctx, streamID, candidate, role)
	return args.Error(0)
}

func (m *MockSignalingClient) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSignalingClient) OnEvent(handler func(domain.SignalEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// emit delivers an inbound event the way the signaling dispatcher does.
func (m *MockSignalingClient) emit(event domain.SignalEvent) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	handler(event)
}

type MockPeerConnection struct {
	mock.Mock

	mu          sync.Mutex
	onCandidate func(domain.Candidate)
	onTrack     func(domain.RemoteTrack)
}

func (m *MockPeerConnection) AddTrack(track domain.MediaTrack, source domain.MediaSource) error {
	args := m.Called(track, source)
	return args.Error(0)
}

func (m *MockPeerConnection) CreateDataChannel(label string) (ports.DataChannel, error) {
	args := m.Called(label)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.DataChannel), args.Error(1)
}

func (m *MockPeerConnection) CreateOffer(opts ports.OfferOptions) (webrtc.SessionDescription, error) {
	args := m.Called(opts)
	return args.Get(0).(webrtc.SessionDescription), args.Error(1)
}

func (m *MockPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	args := m.Called(desc)
	return args.Error(0)
}

func (m *MockPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	args := m.Called(desc)
	return args.Error(0)
}

func (m *MockPeerConnection) AddICECandidate(candidate domain.Candidate) error {
	args := m.Called(candidate)
	return args.Error(0)
}

func (m *MockPeerConnection) OnICECandidate(handler func(domain.Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCandidate = handler
}

func (m *MockPeerConnection) OnTrack(handler func(domain.RemoteTrack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = handler
}

func (m *MockPeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {}

func (m *MockPeerConnection) Close() error {
	args := m.Called()
	return args.Error(0)
}

// appliedCandidates returns the candidates passed to AddICECandidate, in call order.
func (m *MockPeerConnection) appliedCandidates() []domain.Candidate {
	var out []domain.Candidate
	for _, call := range m.Calls {
		if call.Method == "AddICECandidate" {
			out = append(out, call.Arguments.Get(0).(domain.Candidate))
		}
	}
	return out
}

type fakePCFactory struct {
	mu  sync.Mutex
	pcs []ports.PeerConnection
	err error
}

func (f *fakePCFactory) push(pcs ...ports.PeerConnection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcs = append(f.pcs, pcs...)
}

func (f *fakePCFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pcs) == 0 {
		return nil, fmt.Errorf("no peer connection prepared")
	}
	pc := f.pcs[0]
	f.pcs = f.pcs[1:]
	return pc, nil
}

type fakeDataChannel struct {
	mu        sync.Mutex
	label     string
	sent      []string
	closed    bool
	onMessage func(string)
}

func (c *fakeDataChannel) Label() string { return c.label }

func (c *fakeDataChannel) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("data channel %s closed", c.label)
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeDataChannel) OnMessage(handler func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

func (c *fakeDataChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeDataChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeDataChannel) deliver(message string) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	handler(message)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.TrackKind
	enabled bool
	stopped bool
}

func newFakeTrack(id string, kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeSource struct {
	id     string
	tracks []domain.MediaTrack
}

func newFakeSource(id string, constraints domain.MediaConstraints) *fakeSource {
	src := &fakeSource{id: id}
	if constraints.Audio {
		src.tracks = append(src.tracks, newFakeTrack(id+"-audio", domain.TrackKindAudio))
	}
	if constraints.Video {
		src.tracks = append(src.tracks, newFakeTrack(id+"-video", domain.TrackKindVideo))
	}
	return src
}

func (s *fakeSource) ID() string                  { return s.id }
func (s *fakeSource) Tracks() []domain.MediaTrack { return s.tracks }

func (s *fakeSource) track(kind domain.TrackKind) *fakeTrack {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t.(*fakeTrack)
		}
	}
	return nil
}

func (s *fakeSource) allStopped() bool {
	for _, t := range s.tracks {
		if !t.(*fakeTrack).isStopped() {
			return false
		}
	}
	return true
}

func (s *fakeSource) anyStopped() bool {
	for _, t := range s.tracks {
		if t.(*fakeTrack).isStopped() {
			return true
		}
	}
	return false
}

// analysableSource adds an audio analyser to a fake source.
type analysableSource struct {
	*fakeSource
	analyser ports.AudioAnalyser
}

func (s *analysableSource) AudioAnalyser() ports.AudioAnalyser { return s.analyser }

type fakeAcquirer struct {
	mu       sync.Mutex
	acquired []*fakeSource
	requests []domain.MediaConstraints
}

func (a *fakeAcquirer) Acquire(ctx context.Context, constraints domain.MediaConstraints) (domain.MediaSource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := newFakeSource(fmt.Sprintf("acquired-%d", len(a.acquired)), constraints)
	a.acquired = append(a.acquired, src)
	a.requests = append(a.requests, constraints)
	return src, nil
}

type fakeRemoteTrack struct {
	id       string
	streamID string
	kind     domain.TrackKind
}

func (t fakeRemoteTrack) ID() string             { return t.id }
func (t fakeRemoteTrack) StreamID() string       { return t.streamID }
func (t fakeRemoteTrack) Kind() domain.TrackKind { return t.kind }
