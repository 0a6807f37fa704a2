package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleUpdatesStream serves the SSE push channel for one subscriber.
// Heartbeat comments keep intermediary proxies from timing out the
// transport; any write failure ends the stream and the request context
// cleans up the registry entry.
func (h *httpHandler) handleUpdatesStream(c *gin.Context) {
	recipient, ok := h.recipientFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_unsupported"})
		return
	}

	connection, err := h.registry.Subscribe(c.Request.Context(), recipient)
	if err != nil {
		h.logger.Error("stream subscription failed", zap.Error(err), zap.String("user_id", recipient.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription_failed"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(c.Writer, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-connection.Done():
			// Superseded by a newer connection or evicted after overflow.
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-connection.Events():
			if err := writeStreamEvent(c.Writer, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", StreamEventTicketUpdate, data)
	return err
}
