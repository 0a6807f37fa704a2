package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/relaydesk/backend/internal/auth"
	"github.com/relaydesk/backend/internal/authz"
	"github.com/relaydesk/backend/internal/notifications"
	"github.com/relaydesk/backend/internal/updates"
	"go.uber.org/zap"
)

const recipientContextKey = "relaydesk_recipient"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingRecipients    = errors.New("recipient resolver dependency required")
	errMissingUpdateLog     = errors.New("update log dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingRegistry      = errors.New("connection registry dependency required")
	errMissingVerifier      = errors.New("webhook verifier dependency required")
	errMissingClassifier    = errors.New("webhook classifier dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionValidator validates bearer tokens into session claims.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// RecipientResolver turns session claims into visibility recipients.
type RecipientResolver interface {
	RecipientFor(ctx context.Context, userID string, role authz.Role) (authz.Recipient, error)
}

// Dependencies wires the HTTP surface to the underlying services.
type Dependencies struct {
	TokenManager  SessionValidator
	Recipients    RecipientResolver
	UpdateLog     *updates.Log
	Notifications *notifications.Service
	Registry      *Registry
	Verifier      *updates.Verifier
	Classifier    *updates.Classifier
	Logger        *zap.Logger

	// StreamHeartbeat is the SSE keep-alive interval; zero keeps the default.
	StreamHeartbeat time.Duration
}

const defaultStreamHeartbeat = 30 * time.Second

// NewHTTPHandler builds the gin router for the relay API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Recipients == nil {
		return nil, errMissingRecipients
	}
	if deps.UpdateLog == nil {
		return nil, errMissingUpdateLog
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Classifier == nil {
		return nil, errMissingClassifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
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
		tokens:        deps.TokenManager,
		recipients:    deps.Recipients,
		updateLog:     deps.UpdateLog,
		notifications: deps.Notifications,
		registry:      deps.Registry,
		verifier:      deps.Verifier,
		classifier:    deps.Classifier,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.POST("/webhooks/helpdesk", handler.handleWebhook)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/updates", handler.handleUpdatesSince)
	protected.GET("/updates/stream", handler.handleUpdatesStream)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.POST("/notifications/read-all", handler.handleMarkAllAsRead)
	protected.POST("/notifications/:id/read", handler.handleMarkAsRead)
	protected.DELETE("/notifications/:id", handler.handleDeleteNotification)

	return router, nil
}

type httpHandler struct {
	tokens        SessionValidator
	recipients    RecipientResolver
	updateLog     *updates.Log
	notifications *notifications.Service
	registry      *Registry
	verifier      *updates.Verifier
	classifier    *updates.Classifier
	heartbeat     time.Duration
	logger        *zap.Logger
}

// authorizeRequest resolves the caller's recipient identity from the session
// token. EventSource clients cannot set headers, so the stream endpoint also
// accepts the token as a query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case header == "":
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		h.logger.Warn("session carries unknown role", zap.String("role", claims.Role))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	recipient, err := h.recipients.RecipientFor(c.Request.Context(), claims.UserID, role)
	if err != nil {
		h.logger.Error("recipient resolution failed", zap.Error(err), zap.String("user_id", claims.UserID))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recipient_resolution_failed"})
		return
	}

	c.Set(recipientContextKey, recipient)
	c.Next()
}

func (h *httpHandler) recipientFromContext(c *gin.Context) (authz.Recipient, bool) {
	value, exists := c.Get(recipientContextKey)
	if !exists {
		return authz.Recipient{}, false
	}
	recipient, ok := value.(authz.Recipient)
	return recipient, ok
}
