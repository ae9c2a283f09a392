package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"
	"relaylink/internal/core/services"
	"relaylink/internal/infrastructure/media"
	"relaylink/internal/infrastructure/monitoring"
	"relaylink/internal/infrastructure/signal"
	webrtcinfra "relaylink/internal/infrastructure/webrtc"
	"relaylink/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pionRelay answers offers with real pion peer connections.
type pionRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *jsonrpc2.Conn
	peers     map[domain.StreamID]*webrtc.PeerConnection
	published int
	methods   []string
}

func newPionRelay(t *testing.T) *pionRelay {
	r := &pionRelay{t: t, peers: make(map[domain.StreamID]*webrtc.PeerConnection)}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(func() {
		r.server.Close()
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, pc := range r.peers {
			_ = pc.Close()
		}
	})
	return r
}

func (r *pionRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *pionRelay) serve(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.t.Errorf("upgrade: %v", err)
		return
	}
	conn := jsonrpc2.NewConn(context.Background(), jsonrpc2ws.NewObjectStream(ws), jsonrpc2.HandlerWithError(r.handle))

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	<-conn.DisconnectNotify()
}

func (r *pionRelay) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	var params struct {
		StreamID domain.StreamID `json:"streamId"`
		SDPOffer string          `json:"sdpOffer"`
	}
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.methods = append(r.methods, req.Method)
	r.mu.Unlock()

	switch req.Method {
	case "publishMedia":
		r.mu.Lock()
		r.published++
		id := domain.StreamID(fmt.Sprintf("pub-%d", r.published))
		r.mu.Unlock()

		answer, err := r.answer(id, params.SDPOffer)
		if err != nil {
			return nil, err
		}
		return domain.PublishResponse{StreamID: id, SDPAnswer: answer}, nil

	case "subscribeMedia":
		answer, err := r.answer(params.StreamID, params.SDPOffer)
		if err != nil {
			return nil, err
		}
		return domain.SubscribeResponse{StreamID: params.StreamID, SDPAnswer: answer}, nil

	case "unpublishMedia":
		r.mu.Lock()
		pc := r.peers[params.StreamID]
		delete(r.peers, params.StreamID)
		r.mu.Unlock()
		if pc != nil {
			_ = pc.Close()
		}
	}
	return struct{}{}, nil
}

func (r *pionRelay) answer(id domain.StreamID, offer string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "invalid sdp offer: " + err.Error()}
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}
	<-gathered

	r.mu.Lock()
	r.peers[id] = pc
	r.mu.Unlock()
	return pc.LocalDescription().SDP, nil
}

func (r *pionRelay) notify(method string, params interface{}) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	require.NotNil(r.t, conn)
	require.NoError(r.t, conn.Notify(context.Background(), method, params))
}

func (r *pionRelay) peerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func newRelaySession(t *testing.T, relay *pionRelay) (*services.SessionOrchestrator, *monitoring.PrometheusCollector) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	collector := monitoring.NewPrometheusCollector()

	cfg := signal.DefaultConfig()
	cfg.URL = relay.url()
	cfg.CallTimeout = 5 * time.Second
	cfg.Dial = retry.Config{MaxAttempts: 1}
	client := signal.NewClient(cfg, collector, logger)

	engine, err := webrtcinfra.NewEngine(webrtcinfra.Config{}, collector, logger)
	require.NoError(t, err)

	acquirer := media.NewAcquirer(media.AcquirerConfig{Audio: true, Video: true}, logger)

	orchestrator := services.NewSessionOrchestrator(client, engine, acquirer, collector, logger, services.DefaultOrchestratorConfig())
	require.NoError(t, orchestrator.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{}))
	t.Cleanup(func() { _ = orchestrator.Disconnect() })
	return orchestrator, collector
}

func TestSessionAgainstPionRelay_PublishAndUnpublish(t *testing.T) {
	relay := newPionRelay(t)
	session, collector := newRelaySession(t, relay)

	stream, err := session.Publish(context.Background(), ports.PublishRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID("pub-1"), stream.StreamID)
	assert.Equal(t, domain.MediaKindAll, stream.MediaKind)
	require.Len(t, stream.Source.Tracks(), 2)

	local := session.LocalStreams()
	require.Len(t, local, 1)
	assert.Equal(t, domain.NegotiationActive, local[0].State)
	assert.Equal(t, 1, relay.peerCount())
	opened, err := testutil.GatherAndCount(collector.Registry(), "relaylink_streams_opened_total")
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	require.NoError(t, session.Unpublish(context.Background(), stream.StreamID))
	assert.Empty(t, session.LocalStreams())
	assert.Equal(t, 0, relay.peerCount())
	for _, track := range stream.Source.Tracks() {
		local, ok := track.(*media.LocalTrack)
		require.True(t, ok)
		assert.True(t, local.Stopped())
	}
}

func TestSessionAgainstPionRelay_RelayInitiatedSubscribe(t *testing.T) {
	relay := newPionRelay(t)
	session, _ := newRelaySession(t, relay)

	unsubscribed := make(chan domain.UnsubscribedEvent, 1)
	session.Notifier().OnUnsubscribed(func(e domain.UnsubscribedEvent) { unsubscribed <- e })

	relay.notify(domain.SignalSubscribe, map[string]string{"streamId": "remote-1", "mediaType": "audio"})

	require.Eventually(t, func() bool {
		remote := session.RemoteStreams()
		return len(remote) == 1 && remote[0].State == domain.NegotiationActive
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.MediaKindAudio, session.RemoteStreams()[0].MediaKind)

	relay.notify(domain.SignalUnsubscribed, map[string]string{"streamId": "remote-1", "mediaType": "audio"})

	select {
	case e := <-unsubscribed:
		assert.Equal(t, domain.StreamID("remote-1"), e.StreamID)
		assert.Equal(t, domain.MediaKindAudio, e.MediaKind)
	case <-time.After(5 * time.Second):
		t.Fatal("unsubscribed notification not delivered")
	}
	assert.Empty(t, session.RemoteStreams())
}

func TestSessionAgainstPionRelay_Removed(t *testing.T) {
	relay := newPionRelay(t)
	session, _ := newRelaySession(t, relay)

	_, err := session.Publish(context.Background(), ports.PublishRequest{
		Constraints: &domain.MediaConstraints{Audio: true},
	})
	require.NoError(t, err)

	removed := make(chan struct{})
	session.Notifier().OnRemoved(func(domain.RemovedEvent) { close(removed) })

	relay.notify(domain.SignalRemoved, nil)

	select {
	case <-removed:
	case <-time.After(5 * time.Second):
		t.Fatal("removed notification not delivered")
	}
	assert.True(t, session.Removed())
	assert.Empty(t, session.LocalStreams())

	_, err = session.Publish(context.Background(), ports.PublishRequest{})
	assert.ErrorIs(t, err, domain.ErrSessionRemoved)
}
