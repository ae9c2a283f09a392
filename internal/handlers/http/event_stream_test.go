package http

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dialEventStream(t *testing.T, stream *EventStream) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/events", stream.HandleWebSocket)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return stream.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestEventStream_DeliversNotifications(t *testing.T) {
	stream := NewEventStream(zaptest.NewLogger(t).Sugar())
	conn := dialEventStream(t, stream)

	notifier := services.NewNotifier()
	stream.Observe(notifier)

	assert.True(t, notifier.Notify(domain.UnpublishedEvent{StreamID: "s-1"}))
	assert.True(t, notifier.Notify(domain.MessageReceivedEvent{ChannelID: "s-2", Message: "hi"}))

	msg := readEvent(t, conn)
	assert.Equal(t, "unpublished", msg.Type)
	assert.Equal(t, domain.StreamID("s-1"), msg.StreamID)

	msg = readEvent(t, conn)
	assert.Equal(t, "message_received", msg.Type)
	assert.Equal(t, domain.StreamID("s-2"), msg.StreamID)
	assert.Equal(t, "hi", msg.Message)
}

func TestEventStream_ClientLeaves(t *testing.T) {
	stream := NewEventStream(zaptest.NewLogger(t).Sugar())
	conn := dialEventStream(t, stream)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return stream.Clients() == 0 }, time.Second, 5*time.Millisecond)
	stream.Publish(domain.RemovedEvent{})
}

func TestEventStream_AudioLevelFollowsRepublish(t *testing.T) {
	stream := NewEventStream(zaptest.NewLogger(t).Sugar())
	conn := dialEventStream(t, stream)

	report, bind := stream.AudioLevelReporter()
	report(domain.AudioLevelLow)
	report(domain.AudioLevelHigh)
	bind("s-1")

	msg := readEvent(t, conn)
	assert.Equal(t, EventAudioLevel, msg.Type)
	assert.Equal(t, domain.StreamID("s-1"), msg.StreamID)
	assert.Equal(t, domain.AudioLevelHigh, msg.Level, "only the latest held level is sent")

	stream.Publish(domain.RepublishEvent{StreamID: "s-1", Stream: &domain.RtcStream{StreamID: "s-2"}})
	assert.Equal(t, "republish", readEvent(t, conn).Type)

	report(domain.AudioLevelSilent)
	msg = readEvent(t, conn)
	assert.Equal(t, domain.StreamID("s-2"), msg.StreamID)
	assert.Equal(t, domain.AudioLevelSilent, msg.Level)

	stream.Publish(domain.UnpublishedEvent{StreamID: "s-2"})
	assert.Equal(t, 0, stream.audioLevelStreams())
}

func TestNewEventMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		event domain.Event
		want  EventMessage
	}{
		{
			name:  "subscribed",
			event: domain.SubscribedEvent{Stream: domain.RtcStream{StreamID: "r-1", MediaKind: domain.MediaKindVideo}},
			want:  EventMessage{Type: "subscribed", StreamID: "r-1", MediaKind: domain.MediaKindVideo, Timestamp: now},
		},
		{
			name:  "unsubscribed",
			event: domain.UnsubscribedEvent{StreamID: "r-1", MediaKind: domain.MediaKindAudio},
			want:  EventMessage{Type: "unsubscribed", StreamID: "r-1", MediaKind: domain.MediaKindAudio, Timestamp: now},
		},
		{
			name: "republish succeeded",
			event: domain.RepublishEvent{
				StreamID: "old",
				Message:  "moved",
				Stream:   &domain.RtcStream{StreamID: "new", MediaKind: domain.MediaKindAll},
			},
			want: EventMessage{Type: "republish", StreamID: "old", NewStream: "new", MediaKind: domain.MediaKindAll, Message: "moved", Timestamp: now},
		},
		{
			name:  "republish failed",
			event: domain.RepublishEvent{StreamID: "old", Err: errors.New("offer rejected")},
			want:  EventMessage{Type: "republish", StreamID: "old", Error: "offer rejected", Timestamp: now},
		},
		{
			name:  "resubscribe",
			event: domain.ResubscribeEvent{StreamID: "r-2", Message: "relay restart"},
			want:  EventMessage{Type: "resubscribe", StreamID: "r-2", Message: "relay restart", Timestamp: now},
		},
		{
			name:  "removed",
			event: domain.RemovedEvent{},
			want:  EventMessage{Type: "removed", Timestamp: now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewEventMessage(tt.event, now))
		})
	}
}
