package http

import (
	"net/http"
	"sync"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventAudioLevel is the feed type of audio level changes on a local stream.
const EventAudioLevel = "audio_level"

// EventMessage is the JSON form of a session notification.
type EventMessage struct {
	Type      string            `json:"type"`
	StreamID  domain.StreamID   `json:"stream_id,omitempty"`
	MediaKind domain.MediaKind  `json:"media_kind,omitempty"`
	Level     domain.AudioLevel `json:"level,omitempty"`
	Message   string            `json:"message,omitempty"`
	NewStream domain.StreamID   `json:"new_stream_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEventMessage flattens a session notification.
func NewEventMessage(event domain.Event, now time.Time) EventMessage {
	msg := EventMessage{Type: event.Kind().String(), Timestamp: now}

	switch e := event.(type) {
	case domain.SubscribedEvent:
		msg.StreamID = e.Stream.StreamID
		msg.MediaKind = e.Stream.MediaKind
	case domain.UnsubscribedEvent:
		msg.StreamID = e.StreamID
		msg.MediaKind = e.MediaKind
	case domain.UnpublishedEvent:
		msg.StreamID = e.StreamID
	case domain.RepublishEvent:
		msg.StreamID = e.StreamID
		msg.Message = e.Message
		if e.Stream != nil {
			msg.NewStream = e.Stream.StreamID
			msg.MediaKind = e.Stream.MediaKind
		}
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	case domain.ResubscribeEvent:
		msg.StreamID = e.StreamID
		msg.Message = e.Message
	case domain.MessageReceivedEvent:
		msg.StreamID = e.ChannelID
		msg.Message = e.Message
	}
	return msg
}

func audioLevelMessage(id domain.StreamID, level domain.AudioLevel, now time.Time) EventMessage {
	return EventMessage{Type: EventAudioLevel, StreamID: id, Level: level, Timestamp: now}
}

// levelReporter tags the audio level changes of one publish with its stream id.
// Changes reported before the id is known are held; the latest one goes out on bind.
type levelReporter struct {
	mu      sync.Mutex
	id      domain.StreamID
	pending domain.AudioLevel
	stream  *EventStream
}

func (r *levelReporter) report(level domain.AudioLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.id == "" {
		r.pending = level
		return
	}
	r.stream.broadcast(audioLevelMessage(r.id, level, time.Now()))
}

func (r *levelReporter) bind(id domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.id = id
	if r.pending != "" {
		r.stream.broadcast(audioLevelMessage(id, r.pending, time.Now()))
		r.pending = ""
	}
}

type eventClient struct {
	conn *websocket.Conn
	send chan EventMessage
}

// EventStream fans session notifications out to websocket clients. Slow
// clients lose events rather than block the session.
type EventStream struct {
	upgrader websocket.Upgrader

	clients map[string]*eventClient
	mu      sync.RWMutex

	levels   map[domain.StreamID]*levelReporter
	levelsMu sync.Mutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int

	logger *zap.SugaredLogger
}

func NewEventStream(logger *zap.SugaredLogger) *EventStream {
	return &EventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[string]*eventClient),
		levels:       make(map[domain.StreamID]*levelReporter),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		bufferSize:   64,
		logger:       logger,
	}
}

// SetPingInterval sets the ping interval; the read timeout follows at twice the interval.
func (s *EventStream) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
	s.readTimeout = 2 * interval
}

// Publish queues event for every connected client.
func (s *EventStream) Publish(event domain.Event) {
	switch e := event.(type) {
	case domain.RepublishEvent:
		if e.Stream != nil {
			s.rebindAudioLevel(e.StreamID, e.Stream.StreamID)
		}
	case domain.UnpublishedEvent:
		s.ForgetAudioLevels(e.StreamID)
	case domain.RemovedEvent:
		s.ForgetAudioLevels()
	}
	s.broadcast(NewEventMessage(event, time.Now()))
}

func (s *EventStream) broadcast(msg EventMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, client := range s.clients {
		select {
		case client.send <- msg:
		default:
			s.logger.Warnw("event client too slow, dropping event", "client_id", id, "type", msg.Type)
		}
	}
}

// Observe registers the stream as the observer of every notification kind on n.
func (s *EventStream) Observe(n *services.Notifier) {
	for kind := domain.EventSubscribed; kind <= domain.EventMessageReceived; kind++ {
		n.On(kind, s.Publish)
	}
}

// AudioLevelReporter returns a callback for PublishRequest.OnAudioLevel and the
// bind function to call with the stream id once publish has returned. Levels
// reach the feed as audio_level events.
func (s *EventStream) AudioLevelReporter() (report func(domain.AudioLevel), bind func(domain.StreamID)) {
	r := &levelReporter{stream: s}
	bind = func(id domain.StreamID) {
		s.levelsMu.Lock()
		s.levels[id] = r
		s.levelsMu.Unlock()
		r.bind(id)
	}
	return r.report, bind
}

// ForgetAudioLevels drops the reporters of the given streams, or of all streams
// when none is given.
func (s *EventStream) ForgetAudioLevels(ids ...domain.StreamID) {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()

	if len(ids) == 0 {
		s.levels = make(map[domain.StreamID]*levelReporter)
		return
	}
	for _, id := range ids {
		delete(s.levels, id)
	}
}

// A republished stream keeps its detector, so its levels follow the new id.
func (s *EventStream) rebindAudioLevel(oldID, newID domain.StreamID) {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()

	r, ok := s.levels[oldID]
	if !ok {
		return
	}
	delete(s.levels, oldID)
	s.levels[newID] = r
	r.bind(newID)
}

func (s *EventStream) audioLevelStreams() int {
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()
	return len(s.levels)
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	client := &eventClient{conn: conn, send: make(chan EventMessage, s.bufferSize)}

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()
	s.logger.Infow("event client connected", "client_id", id, "remote_addr", c.ClientIP())

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		s.logger.Infow("event client disconnected", "client_id", id)
	}()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	// The feed is one-way; reading only processes control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Infow("event client read failed", "client_id", id, "error", err)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Infow("error sending event", "client_id", id, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "client_id", id, "error", err)
				return
			}

		case <-closed:
			return
		}
	}
}

// SetCheckOrigin replaces the upgrader's origin check.
func (s *EventStream) SetCheckOrigin(check func(r *http.Request) bool) {
	s.upgrader.CheckOrigin = check
}
