package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/backend/internal/notifications"
	"go.uber.org/zap"
)

type notificationPayload struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Body            string          `json:"body,omitempty"`
	Data            json.RawMessage `json:"data"`
	TicketID        int64           `json:"ticket_id"`
	Read            bool            `json:"read"`
	ReadAtMillis    *int64          `json:"read_at_ms,omitempty"`
	CreatedAtMillis int64           `json:"created_at_ms"`
}

type notificationListPayload struct {
	Notifications []notificationPayload `json:"notifications"`
	Total         int64                 `json:"total"`
	UnreadCount   int64                 `json:"unread_count"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, err := parseQueryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	offset, err := parseQueryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offset"})
		return
	}

	page, err := h.notifications.List(c.Request.Context(), notifications.ListRequest{
		UserID:     recipient.UserID,
		Limit:      limit,
		Offset:     offset,
		UnreadOnly: c.Query("unread") == "true",
	})
	if err != nil {
		h.logger.Error("notification list failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := notificationListPayload{
		Notifications: make([]notificationPayload, 0, len(page.Notifications)),
		Total:         page.Total,
		UnreadCount:   page.UnreadCount,
	}
	for _, record := range page.Notifications {
		data := json.RawMessage(`{}`)
		if json.Valid([]byte(record.DataJSON)) {
			data = json.RawMessage(record.DataJSON)
		}
		response.Notifications = append(response.Notifications, notificationPayload{
			ID:              record.ID,
			Type:            string(record.Type),
			Title:           record.Title,
			Body:            record.Body,
			Data:            data,
			TicketID:        record.TicketID,
			Read:            record.Read,
			ReadAtMillis:    record.ReadAtMillis,
			CreatedAtMillis: record.CreatedAtMillis,
		})
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	count, err := h.notifications.GetUnreadCount(c.Request.Context(), recipient.UserID)
	if err != nil {
		h.logger.Error("unread count failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *httpHandler) handleMarkAsRead(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	changed, err := h.notifications.MarkAsRead(c.Request.Context(), c.Param("id"), recipient.UserID)
	if err != nil {
		if errors.Is(err, notifications.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		h.logger.Error("mark as read failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (h *httpHandler) handleMarkAllAsRead(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	changed, err := h.notifications.MarkAllAsRead(c.Request.Context(), recipient.UserID)
	if err != nil {
		h.logger.Error("mark all as read failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err := h.notifications.Delete(c.Request.Context(), c.Param("id"), recipient.UserID)
	if err != nil {
		switch {
		case errors.Is(err, notifications.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, notifications.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		default:
			h.logger.Error("notification delete failed", zap.Error(err), zap.String("user_id", recipient.UserID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func parseQueryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid integer query parameter")
	}
	return parsed, nil
}
