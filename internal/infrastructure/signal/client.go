package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"
	"relaylink/pkg/auth"
	"relaylink/pkg/retry"
	"relaylink/pkg/tracing"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"
)

const DefaultURL = "wss://device.webrtc.bandwidth.com"

var errUnauthorized = errors.New("relay refused the device token")

type Config struct {
	URL          string
	SDKVersion   string
	PingInterval time.Duration
	CallTimeout  time.Duration
	EventBuffer  int
	Dial         retry.Config
	// TraceMessages logs every JSON-RPC frame at debug level.
	TraceMessages bool
}

func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		SDKVersion:   "1.0.0",
		PingInterval: 5 * time.Minute,
		CallTimeout:  15 * time.Second,
		EventBuffer:  256,
		Dial:         retry.DefaultConfig(),
	}
}

// Client speaks JSON-RPC 2.0 over a websocket to the media relay.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	metrics ports.SessionMetrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	conn    *jsonrpc2.Conn
	handler func(domain.SignalEvent)
	events  chan domain.SignalEvent
	stop    chan struct{}
}

var _ ports.SignalingClient = (*Client)(nil)

func NewClient(cfg Config, metrics ports.SessionMetrics, logger *zap.SugaredLogger) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// OnEvent registers the receiver of inbound events. Set it before Connect.
func (c *Client) OnEvent(handler func(domain.SignalEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect dials the relay and starts the event dispatcher and keep-alive loops.
func (c *Client) Connect(ctx context.Context, params domain.AuthParams, opts domain.ConnectOptions) error {
	if _, err := auth.InspectDeviceToken(params.DeviceToken, c.now()); err != nil {
		return fmt.Errorf("device token: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("signaling already connected")
	}
	c.mu.Unlock()

	base := c.cfg.URL
	if opts.WebsocketURL != "" {
		base = opts.WebsocketURL
	}
	endpoint := buildURL(base, params.DeviceToken, c.cfg.SDKVersion)

	dialCfg := c.cfg.Dial
	dialCfg.NonRetryable = append(dialCfg.NonRetryable, errUnauthorized)
	onRetry := c.cfg.Dial.OnRetry
	dialCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warnw("signaling dial failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	ws, err := retry.DoWithResult(ctx, dialCfg, func(ctx context.Context) (*websocket.Conn, error) {
		ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("%w: %s", errUnauthorized, resp.Status)
			}
			return nil, err
		}
		return ws, nil
	})
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	var connOpts []jsonrpc2.ConnOpt
	if c.cfg.TraceMessages {
		connOpts = append(connOpts, jsonrpc2.LogMessages(zap.NewStdLog(c.logger.Desugar())))
	}

	events := make(chan domain.SignalEvent, c.cfg.EventBuffer)
	stop := make(chan struct{})
	conn := jsonrpc2.NewConn(context.Background(), jsonrpc2ws.NewObjectStream(ws), &notificationHandler{
		client: c,
		events: events,
		stop:   stop,
	}, connOpts...)

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("signaling already connected")
	}
	c.conn, c.events, c.stop = conn, events, stop
	c.mu.Unlock()

	go c.dispatch(events, stop)
	go c.keepAlive(conn, stop)
	go c.watch(conn, stop)

	c.logger.Infow("signaling connected", "url", redact(endpoint))
	return nil
}

// Disconnect closes the connection. Calling it when not connected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, stop := c.conn, c.stop
	c.conn, c.events, c.stop = nil, nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(stop)
	if err := conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return fmt.Errorf("close signaling: %w", err)
	}
	c.logger.Info("signaling disconnected")
	return nil
}

func (c *Client) Publish(ctx context.Context, sdpOffer string) (*domain.PublishResponse, error) {
	var resp domain.PublishResponse
	if err := c.call(ctx, methodPublish, publishParams{SDPOffer: sdpOffer}, &resp); err != nil {
		return nil, err
	}
	if resp.StreamID == "" {
		return nil, fmt.Errorf("%s: response without stream id", methodPublish)
	}
	return &resp, nil
}

func (c *Client) Unpublish(ctx context.Context, streamID domain.StreamID) error {
	var ack json.RawMessage
	return c.call(ctx, methodUnpublish, unpublishParams{StreamID: streamID}, &ack)
}

func (c *Client) Subscribe(ctx context.Context, streamID domain.StreamID, sdpOffer string) (*domain.SubscribeResponse, error) {
	var resp domain.SubscribeResponse
	if err := c.call(ctx, methodSubscribe, subscribeParams{StreamID: streamID, SDPOffer: sdpOffer}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendIceCandidate forwards a local candidate. Candidates without a media line
// identifier are dropped because the relay cannot route them.
func (c *Client) SendIceCandidate(ctx context.Context, streamID domain.StreamID, candidate domain.Candidate, role domain.CandidateRole) error {
	if !candidate.Complete() {
		c.logger.Debugw("dropping incomplete local candidate", "stream_id", streamID, "role", role)
		return nil
	}

	params := iceCandidateParams{
		StreamID:      streamID,
		CandidateType: role,
		Candidate:     candidate.Candidate,
		SDPMid:        *candidate.SDPMid,
		SDPMLineIndex: *candidate.SDPMLineIndex,
	}
	var ack json.RawMessage
	return c.call(ctx, methodIceCandidate, params, &ack)
}

// Connected reports whether a relay connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", method, domain.ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	ctx, span := tracing.TraceSignaling(ctx, method)
	defer span.End()

	start := time.Now()
	err := conn.Call(ctx, method, params, result)
	c.metrics.RecordSignalingCall(method, time.Since(start), err)

	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%s: %w", method, domain.ErrNotConnected)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// dispatch delivers events to the registered handler one at a time.
func (c *Client) dispatch(events <-chan domain.SignalEvent, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event := <-events:
			c.mu.Lock()
			handler := c.handler
			c.mu.Unlock()

			if handler == nil {
				c.logger.Debugw("no handler for signaling event", "event", event.SignalName())
				continue
			}
			handler(event)
		}
	}
}

func (c *Client) keepAlive(conn *jsonrpc2.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
			var ack json.RawMessage
			err := conn.Call(ctx, methodKeepAlive, struct{}{}, &ack)
			cancel()
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				c.logger.Warnw("signaling keep-alive failed", "error", err)
			}
		}
	}
}

// watch clears the connection when the relay side goes away.
func (c *Client) watch(conn *jsonrpc2.Conn, stop chan struct{}) {
	select {
	case <-stop:
		return
	case <-conn.DisconnectNotify():
	}

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn, c.events, c.stop = nil, nil, nil
	}
	c.mu.Unlock()

	if current {
		close(stop)
		c.logger.Warn("signaling connection lost")
	}
}

type notificationHandler struct {
	client *Client
	events chan<- domain.SignalEvent
	stop   <-chan struct{}
}

func (h *notificationHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	logger := h.client.logger

	event, err := decodeEvent(req.Method, req.Params)
	if err != nil {
		logger.Warnw("malformed signaling event", "method", req.Method, "error", err)
		if !req.Notif {
			_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()})
		}
		return
	}
	if event == nil {
		logger.Debugw("ignoring unknown signaling method", "method", req.Method)
		if !req.Notif {
			_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: req.Method})
		}
		return
	}
	if !req.Notif {
		_ = conn.Reply(ctx, req.ID, struct{}{})
	}

	select {
	case h.events <- event:
	case <-h.stop:
	}
}

func buildURL(base, deviceToken, sdkVersion string) string {
	q := url.Values{}
	q.Set("at", "d")
	q.Set("deviceToken", deviceToken)
	q.Set("sdkVersion", sdkVersion)
	return strings.TrimRight(base, "/") + "/v1/?" + q.Encode()
}

// redact hides the device token from logs.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("deviceToken") {
		q.Set("deviceToken", "REDACTED")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
