package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MeridianCRM/pulse/backend/internal/auth"
	"github.com/MeridianCRM/pulse/backend/internal/notify"
)

const userIDContextKey = "pulse_user_id"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingFeedManager     = errors.New("feed manager dependency required")
	errMissingActivityBus     = errors.New("activity bus dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionTokenManager validates the bearer tokens the HTTP surface
// authenticates with.
type SessionTokenManager interface {
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps validated session claims onto canonical user ids.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP surface to the engine.
type Dependencies struct {
	TokenManager SessionTokenManager
	Identities   IdentityResolver
	FeedManager  *notify.Manager
	ActivityBus  *notify.ActivityBus
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the notification feed
// and its mutation operations.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.FeedManager == nil {
		return nil, errMissingFeedManager
	}
	if deps.ActivityBus == nil {
		return nil, errMissingActivityBus
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		identities:  deps.Identities,
		feedManager: deps.FeedManager,
		activityBus: deps.ActivityBus,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.POST("/notifications/refresh", handler.handleRefresh)
	protected.POST("/notifications/read-all", handler.handleMarkAllAsRead)
	protected.POST("/notifications/:id/read", handler.handleMarkAsRead)
	protected.POST("/notifications/:id/archive", handler.handleArchive)
	protected.DELETE("/notifications/:id", handler.handleRemove)
	protected.POST("/activities/completed", handler.handleActivityCompleted)

	return router, nil
}

type httpHandler struct {
	tokens      SessionTokenManager
	identities  IdentityResolver
	feedManager *notify.Manager
	activityBus *notify.ActivityBus
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type feedResponsePayload struct {
	Notifications []notify.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
	Loading       bool                  `json:"loading"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	engine, ok := h.engineForRequest(c)
	if !ok {
		return
	}

	feed := engine.Notifications()
	if feed == nil {
		feed = []notify.Notification{}
	}
	c.JSON(http.StatusOK, feedResponsePayload{
		Notifications: feed,
		UnreadCount:   engine.UnreadCount(),
		Loading:       engine.Loading(),
	})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	engine, ok := h.engineForRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": engine.UnreadCount()})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	engine, ok := h.engineForRequest(c)
	if !ok {
		return
	}
	if err := engine.Refresh(c.Request.Context()); err != nil {
		h.logger.Error("feed refresh request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

func (h *httpHandler) handleMarkAsRead(c *gin.Context) {
	h.mutateByID(c, func(engine *notify.Engine, id notify.NotificationID) error {
		return engine.MarkAsRead(c.Request.Context(), id)
	})
}

func (h *httpHandler) handleMarkAllAsRead(c *gin.Context) {
	engine, ok := h.engineForRequest(c)
	if !ok {
		return
	}
	if err := engine.MarkAllAsRead(c.Request.Context()); err != nil {
		h.logger.Error("mark all as read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mutation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleArchive(c *gin.Context) {
	h.mutateByID(c, func(engine *notify.Engine, id notify.NotificationID) error {
		return engine.ArchiveNotification(c.Request.Context(), id)
	})
}

func (h *httpHandler) handleRemove(c *gin.Context) {
	h.mutateByID(c, func(engine *notify.Engine, id notify.NotificationID) error {
		return engine.RemoveNotification(c.Request.Context(), id)
	})
}

// mutateByID runs one of the per-id mutation operations. Unknown ids
// are silent no-ops inside the engine, so the only client errors here
// are malformed ids.
func (h *httpHandler) mutateByID(c *gin.Context, mutate func(*notify.Engine, notify.NotificationID) error) {
	id, err := notify.NewNotificationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_notification_id"})
		return
	}

	engine, ok := h.engineForRequest(c)
	if !ok {
		return
	}
	if err := mutate(engine, id); err != nil {
		h.logger.Error("notification mutation failed",
			zap.String("notification_id", id.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mutation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type activityCompletedPayload struct {
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleActivityCompleted(c *gin.Context) {
	var request activityCompletedPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	occurredAt, err := time.Parse(time.RFC3339, request.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Touching the engine first guarantees a subscriber exists before
	// the signal is published.
	if _, ok := h.engineForRequest(c); !ok {
		return
	}

	h.activityBus.Publish(notify.ActivityCompleted{
		UserID:     userID,
		Title:      strings.TrimSpace(request.Title),
		OccurredAt: occurredAt,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *httpHandler) engineForRequest(c *gin.Context) (*notify.Engine, bool) {
	rawUserID := c.GetString(userIDContextKey)
	userID, err := notify.NewUserID(rawUserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	engine, err := h.feedManager.EngineFor(userID)
	if err != nil {
		h.logger.Error("feed engine lookup failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "engine_unavailable"})
		return nil, false
	}
	return engine, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	canonicalID, err := h.identities.ResolveCanonicalUserID(auth.SessionClaims{
		Subject:     subject,
		UserEmail:   c.GetHeader("X-User-Email"),
		DisplayName: c.GetHeader("X-User-Name"),
	})
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, canonicalID)
	c.Next()
}
