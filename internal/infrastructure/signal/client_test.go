package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/pkg/retry"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedCall struct {
	Method string
	Params json.RawMessage
}

// relayStub is a minimal JSON-RPC relay served over httptest.
type relayStub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	status   int

	mu      sync.Mutex
	calls   []recordedCall
	query   url.Values
	path    string
	respond func(method string, params json.RawMessage) (interface{}, error)

	dials int32
	conns chan *jsonrpc2.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	r := &relayStub{
		t:     t,
		conns: make(chan *jsonrpc2.Conn, 4),
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)
	return r
}

func (r *relayStub) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *relayStub) serve(w http.ResponseWriter, req *http.Request) {
	atomic.AddInt32(&r.dials, 1)

	r.mu.Lock()
	r.query = req.URL.Query()
	r.path = req.URL.Path
	status := r.status
	r.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.t.Errorf("upgrade: %v", err)
		return
	}

	conn := jsonrpc2.NewConn(context.Background(), jsonrpc2ws.NewObjectStream(ws), jsonrpc2.HandlerWithError(r.handle))
	r.conns <- conn
	<-conn.DisconnectNotify()
}

func (r *relayStub) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	var params json.RawMessage
	if req.Params != nil {
		params = append(params, *req.Params...)
	}

	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{Method: req.Method, Params: params})
	respond := r.respond
	r.mu.Unlock()

	if respond != nil {
		return respond(req.Method, params)
	}
	return struct{}{}, nil
}

func (r *relayStub) recorded(method string) []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []recordedCall
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *relayStub) peer() *jsonrpc2.Conn {
	select {
	case conn := <-r.conns:
		return conn
	case <-time.After(2 * time.Second):
		r.t.Fatal("relay never accepted a connection")
		return nil
	}
}

func testClientConfig(relayURL string) Config {
	cfg := DefaultConfig()
	cfg.URL = relayURL
	cfg.SDKVersion = "9.9.9"
	cfg.CallTimeout = 2 * time.Second
	cfg.Dial = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return cfg
}

func connectedClient(t *testing.T, relay *relayStub) (*Client, *jsonrpc2.Conn) {
	t.Helper()
	client := NewClient(testClientConfig(relay.url()), nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{}))
	t.Cleanup(func() { _ = client.Disconnect() })
	return client, relay.peer()
}

func TestClient_ConnectQuery(t *testing.T) {
	relay := newRelayStub(t)
	client, _ := connectedClient(t, relay)

	assert.True(t, client.Connected())

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, "/v1/", relay.path)
	assert.Equal(t, "d", relay.query.Get("at"))
	assert.Equal(t, "device-token", relay.query.Get("deviceToken"))
	assert.Equal(t, "9.9.9", relay.query.Get("sdkVersion"))
}

func TestClient_ConnectOptionsOverrideURL(t *testing.T) {
	relay := newRelayStub(t)
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil, zaptest.NewLogger(t).Sugar())

	err := client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{WebsocketURL: relay.url()})
	require.NoError(t, err)
	defer client.Disconnect()

	assert.Equal(t, int32(1), atomic.LoadInt32(&relay.dials))
}

func TestClient_ConnectRejectsExpiredToken(t *testing.T) {
	relay := newRelayStub(t)
	client := NewClient(testClientConfig(relay.url()), nil, zaptest.NewLogger(t).Sugar())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "device",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte("relay-secret"))
	require.NoError(t, err)

	err = client.Connect(context.Background(), domain.AuthParams{DeviceToken: signed}, domain.ConnectOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&relay.dials))
	assert.False(t, client.Connected())
}

func TestClient_ConnectUnauthorizedIsNotRetried(t *testing.T) {
	relay := newRelayStub(t)
	relay.status = http.StatusUnauthorized
	client := NewClient(testClientConfig(relay.url()), nil, zaptest.NewLogger(t).Sugar())

	err := client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&relay.dials))
}

func TestClient_ConnectRetriesServerErrors(t *testing.T) {
	relay := newRelayStub(t)
	relay.status = http.StatusServiceUnavailable
	cfg := testClientConfig(relay.url())
	var retried []int
	cfg.Dial.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retried = append(retried, attempt)
	}
	client := NewClient(cfg, nil, zaptest.NewLogger(t).Sugar())

	err := client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, retry.ErrExhausted))
	assert.Equal(t, int32(3), atomic.LoadInt32(&relay.dials))
	assert.Equal(t, []int{1, 2}, retried, "caller retry hook still runs")
}

func TestClient_Publish(t *testing.T) {
	relay := newRelayStub(t)
	relay.respond = func(method string, _ json.RawMessage) (interface{}, error) {
		return domain.PublishResponse{StreamID: "pub-1", SDPAnswer: "v=0 answer"}, nil
	}
	client, _ := connectedClient(t, relay)

	resp, err := client.Publish(context.Background(), "v=0 offer")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID("pub-1"), resp.StreamID)
	assert.Equal(t, "v=0 answer", resp.SDPAnswer)

	calls := relay.recorded("publishMedia")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"sdpOffer":"v=0 offer"}`, string(calls[0].Params))
}

func TestClient_PublishRelayError(t *testing.T) {
	relay := newRelayStub(t)
	relay.respond = func(string, json.RawMessage) (interface{}, error) {
		return nil, &jsonrpc2.Error{Code: 4000, Message: "invalid SDP offer"}
	}
	client, _ := connectedClient(t, relay)

	_, err := client.Publish(context.Background(), "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SDP offer")
}

func TestClient_PublishWithoutStreamID(t *testing.T) {
	relay := newRelayStub(t)
	relay.respond = func(string, json.RawMessage) (interface{}, error) {
		return map[string]string{"sdpAnswer": "v=0"}, nil
	}
	client, _ := connectedClient(t, relay)

	_, err := client.Publish(context.Background(), "v=0 offer")
	assert.Error(t, err)
}

func TestClient_SubscribeAndUnpublish(t *testing.T) {
	relay := newRelayStub(t)
	relay.respond = func(method string, _ json.RawMessage) (interface{}, error) {
		if method == "subscribeMedia" {
			return domain.SubscribeResponse{StreamID: "remote-1", SDPAnswer: "v=0 remote"}, nil
		}
		return nil, nil
	}
	client, _ := connectedClient(t, relay)

	resp, err := client.Subscribe(context.Background(), "remote-1", "v=0 recv")
	require.NoError(t, err)
	assert.Equal(t, "v=0 remote", resp.SDPAnswer)

	require.NoError(t, client.Unpublish(context.Background(), "pub-1"))

	subs := relay.recorded("subscribeMedia")
	require.Len(t, subs, 1)
	assert.JSONEq(t, `{"streamId":"remote-1","sdpOffer":"v=0 recv"}`, string(subs[0].Params))

	unpubs := relay.recorded("unpublishMedia")
	require.Len(t, unpubs, 1)
	assert.JSONEq(t, `{"streamId":"pub-1"}`, string(unpubs[0].Params))
}

func TestClient_SendIceCandidate(t *testing.T) {
	relay := newRelayStub(t)
	client, _ := connectedClient(t, relay)

	mid := "0"
	index := uint16(0)

	// Missing sdpMid never reaches the relay.
	require.NoError(t, client.SendIceCandidate(context.Background(), "pub-1",
		domain.Candidate{Candidate: "candidate:1", SDPMLineIndex: &index}, domain.CandidateRolePublish))
	assert.Empty(t, relay.recorded("onIceCandidate"))

	require.NoError(t, client.SendIceCandidate(context.Background(), "pub-1",
		domain.Candidate{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &index}, domain.CandidateRoleSubscribe))

	calls := relay.recorded("onIceCandidate")
	require.Len(t, calls, 1)
	assert.JSONEq(t,
		`{"streamId":"pub-1","candidateType":"subscribe","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`,
		string(calls[0].Params))
}

func TestClient_EventsDeliveredInOrder(t *testing.T) {
	relay := newRelayStub(t)
	client := NewClient(testClientConfig(relay.url()), nil, zaptest.NewLogger(t).Sugar())

	received := make(chan domain.SignalEvent, 8)
	client.OnEvent(func(event domain.SignalEvent) { received <- event })

	require.NoError(t, client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{}))
	defer client.Disconnect()
	peer := relay.peer()

	ctx := context.Background()
	require.NoError(t, peer.Notify(ctx, "subscribe", map[string]string{"streamId": "r-1", "mediaType": "audio"}))
	require.NoError(t, peer.Notify(ctx, "futureEvent", map[string]string{}))
	require.NoError(t, peer.Notify(ctx, "onIceCandidate", map[string]interface{}{
		"streamId": "r-1", "candidate": "candidate:9", "sdpMid": "0", "sdpMLineIndex": 0,
	}))
	require.NoError(t, peer.Notify(ctx, "removed", map[string]string{}))

	var got []domain.SignalEvent
	for len(got) < 3 {
		select {
		case event := <-received:
			got = append(got, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}

	assert.Equal(t, domain.SubscribeSignal{StreamID: "r-1", MediaKind: domain.MediaKindAudio}, got[0])
	candidate, ok := got[1].(domain.IceCandidateSignal)
	require.True(t, ok)
	assert.Equal(t, "candidate:9", candidate.Candidate.Candidate)
	assert.Equal(t, domain.RemovedSignal{}, got[2])
}

func TestClient_KeepAlive(t *testing.T) {
	relay := newRelayStub(t)
	cfg := testClientConfig(relay.url())
	cfg.PingInterval = 20 * time.Millisecond
	client := NewClient(cfg, nil, zaptest.NewLogger(t).Sugar())

	require.NoError(t, client.Connect(context.Background(), domain.AuthParams{DeviceToken: "device-token"}, domain.ConnectOptions{}))
	defer client.Disconnect()

	require.Eventually(t, func() bool {
		return len(relay.recorded("onTest")) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(DefaultConfig(), nil, zaptest.NewLogger(t).Sugar())

	_, err := client.Publish(context.Background(), "v=0")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.NoError(t, client.Disconnect())
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	relay := newRelayStub(t)
	client, _ := connectedClient(t, relay)

	require.NoError(t, client.Disconnect())
	require.NoError(t, client.Disconnect())
	assert.False(t, client.Connected())

	err := client.Unpublish(context.Background(), "pub-1")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClient_RelayHangUp(t *testing.T) {
	relay := newRelayStub(t)
	client, peer := connectedClient(t, relay)

	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool { return !client.Connected() }, 2*time.Second, 10*time.Millisecond)
	_, err := client.Subscribe(context.Background(), "r-1", "v=0")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
