package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type updateItemPayload struct {
	ID              int64           `json:"id"`
	TicketID        int64           `json:"ticket_id"`
	Event           string          `json:"event"`
	CreatedAtMillis int64           `json:"created_at_ms"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	PayloadError    string          `json:"payload_error,omitempty"`
}

type updatesResponsePayload struct {
	Updates   []updateItemPayload `json:"updates"`
	Truncated bool                `json:"truncated"`
}

// handleUpdatesSince serves the catch-up read path: every record newer than
// the caller's cursor that it may see, independent of the push channel. A
// full batch signals truncation; the client re-polls with the last record's
// timestamp as its new cursor.
func (h *httpHandler) handleUpdatesSince(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sinceMillis := int64(0)
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		sinceMillis = parsed
	}

	limit := h.updateLog.MaxBatch()
	records, err := h.updateLog.QueryUpdatesSince(c.Request.Context(), recipient, sinceMillis, limit)
	if err != nil {
		h.logger.Error("catch-up query failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := updatesResponsePayload{
		Updates:   make([]updateItemPayload, 0, len(records)),
		Truncated: len(records) == limit,
	}
	for _, record := range records {
		item := updateItemPayload{
			ID:              record.ID,
			TicketID:        record.TicketID,
			Event:           string(record.Event),
			CreatedAtMillis: record.CreatedAtMillis,
		}
		// A single undecodable payload must not sink the whole batch.
		if json.Valid([]byte(record.PayloadJSON)) {
			item.Payload = json.RawMessage(record.PayloadJSON)
		} else {
			item.PayloadError = "payload_unreadable"
			h.logger.Warn("stored payload is not valid json", zap.Int64("update_id", record.ID))
		}
		response.Updates = append(response.Updates, item)
	}

	c.JSON(http.StatusOK, response)
}
