package http

import (
	"net/http"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"
	"relaylink/internal/infrastructure/monitoring"
	apperrors "relaylink/pkg/errors"
	"relaylink/pkg/logger"
	"relaylink/pkg/tracing"
	"relaylink/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	session ports.SessionService
	health  *monitoring.HealthChecker
	metrics http.Handler
	events  *EventStream
	logger  *zap.SugaredLogger
}

// NewSessionHandler wires the control API. health, metrics and events are
// optional; their routes are only registered when set.
func NewSessionHandler(
	session ports.SessionService,
	health *monitoring.HealthChecker,
	metrics http.Handler,
	events *EventStream,
	logger *zap.SugaredLogger,
) *SessionHandler {
	return &SessionHandler{
		session: session,
		health:  health,
		metrics: metrics,
		events:  events,
		logger:  logger,
	}
}

// SetupRoutes registers the routes. auth guards everything under /api/v1.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, auth ...gin.HandlerFunc) {
	if h.health != nil {
		router.GET("/health", h.Health)
	}
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api/v1", auth...)
	{
		api.GET("/streams", h.ListStreams)
		api.POST("/streams", h.Publish)
		api.DELETE("/streams", h.UnpublishAll)
		api.DELETE("/streams/:id", h.Unpublish)

		api.POST("/messages", h.SendMessage)
		api.PUT("/mic", h.SetMic)
		api.PUT("/camera", h.SetCamera)

		if h.events != nil {
			api.GET("/events", h.events.HandleWebSocket)
		}
	}
}

func (h *SessionHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SessionHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"local":  nonNil(h.session.LocalStreams()),
		"remote": nonNil(h.session.RemoteStreams()),
	})
}

type publishRequest struct {
	Audio *bool `json:"audio"`
	Video *bool `json:"video"`
	// AudioLevelEvents streams voice activity changes to the event feed.
	AudioLevelEvents bool `json:"audio_level_events"`
}

// Publish starts a stream. Omitted audio/video flags default to true; an empty
// body asks for both.
func (h *SessionHandler) Publish(c *gin.Context) {
	var req publishRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	var constraints *domain.MediaConstraints
	if req.Audio != nil || req.Video != nil {
		mc := domain.DefaultConstraints()
		if req.Audio != nil {
			mc.Audio = *req.Audio
		}
		if req.Video != nil {
			mc.Video = *req.Video
		}
		constraints = &mc
	}

	publish := ports.PublishRequest{Constraints: constraints}
	var bindLevels func(domain.StreamID)
	if req.AudioLevelEvents {
		if h.events == nil {
			_ = c.Error(apperrors.NewInvalidInputError("audio level events need the event feed").WithContext("field", "audio_level_events"))
			return
		}
		publish.OnAudioLevel, bindLevels = h.events.AudioLevelReporter()
	}

	stream, err := h.session.Publish(c.Request.Context(), publish)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if bindLevels != nil {
		bindLevels(stream.StreamID)
	}

	h.logger.Infow("stream published via control API",
		"stream_id", stream.StreamID,
		"media_kind", stream.MediaKind,
		"request_id", logger.RequestID(c.Request.Context()),
	)
	c.JSON(http.StatusCreated, gin.H{
		"stream_id":  stream.StreamID,
		"media_kind": stream.MediaKind,
	})
}

func (h *SessionHandler) UnpublishAll(c *gin.Context) {
	if err := h.session.Unpublish(c.Request.Context()); err != nil {
		_ = c.Error(unpublishError(err))
		return
	}
	if h.events != nil {
		h.events.ForgetAudioLevels()
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) Unpublish(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))
	if err := validation.ValidateStreamID(string(id)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("field", "id"))
		return
	}
	ctx := logger.WithStreamID(c.Request.Context(), string(id))
	tracing.AddSpanAttributes(ctx, tracing.StreamIDKey.String(string(id)))

	if !containsStream(h.session.LocalStreams(), id) {
		_ = c.Error(domain.ErrStreamNotFound)
		return
	}
	if err := h.session.Unpublish(ctx, id); err != nil {
		_ = c.Error(unpublishError(err))
		return
	}
	if h.events != nil {
		h.events.ForgetAudioLevels(id)
	}
	c.Status(http.StatusNoContent)
}

type messageRequest struct {
	Message  string          `json:"message" binding:"required"`
	StreamID domain.StreamID `json:"stream_id"`
}

func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("message is required").WithContext("field", "message"))
		return
	}
	if err := validation.ValidateMessage(req.Message); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("field", "message"))
		return
	}

	var from []domain.StreamID
	if req.StreamID != "" {
		if !containsStream(h.session.LocalStreams(), req.StreamID) {
			_ = c.Error(domain.ErrStreamNotFound)
			return
		}
		from = append(from, req.StreamID)
	}

	if err := h.session.SendMessage(req.Message, from...); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

type toggleRequest struct {
	Enabled   *bool             `json:"enabled" binding:"required"`
	StreamIDs []domain.StreamID `json:"stream_ids"`
}

func (h *SessionHandler) SetMic(c *gin.Context) {
	h.toggle(c, h.session.SetMicEnabled)
}

func (h *SessionHandler) SetCamera(c *gin.Context) {
	h.toggle(c, h.session.SetCameraEnabled)
}

func (h *SessionHandler) toggle(c *gin.Context, set func(bool, ...domain.StreamID)) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("enabled is required").WithContext("field", "enabled"))
		return
	}
	if err := validation.ValidateStreamIDs(req.StreamIDs); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("field", "stream_ids"))
		return
	}

	set(*req.Enabled, req.StreamIDs...)
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// unpublishError keeps session errors as they are and reports anything else
// as a failed relay call.
func unpublishError(err error) error {
	if apperrors.FromDomain(err).Code != apperrors.ErrCodeInternal {
		return err
	}
	return apperrors.SignalingFailed(err)
}

func containsStream(streams []domain.StreamInfo, id domain.StreamID) bool {
	for _, s := range streams {
		if s.StreamID == id {
			return true
		}
	}
	return false
}

func nonNil(streams []domain.StreamInfo) []domain.StreamInfo {
	if streams == nil {
		return []domain.StreamInfo{}
	}
	return streams
}
