package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/relaydesk/backend/internal/notifications"
	"github.com/relaydesk/backend/internal/updates"
	"go.uber.org/zap"
)

// handleWebhook ingests one helpdesk delivery: verify, classify, append,
// then fan out. The push and the inbox write are independent side effects;
// neither failure blocks the other, and both are logged against the update
// record id so skew between the log and its consumers stays detectable.
func (h *httpHandler) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	if err := h.verifier.Verify(body, c.GetHeader(updates.SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	classification, err := h.classifier.Classify(body)
	if err != nil {
		if errors.Is(err, updates.ErrMalformedPayload) {
			h.logger.Warn("webhook payload rejected", zap.Error(err), zap.Int("body_bytes", len(body)))
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_payload"})
			return
		}
		h.logger.Error("webhook classification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "classification_failed"})
		return
	}

	record := &updates.UpdateRecord{
		TicketID:    classification.TicketID,
		Event:       classification.Event,
		PayloadJSON: classification.PayloadJSON,
		GroupID:     classification.Scope.GroupID,
		CustomerID:  classification.Scope.CustomerID,
	}
	if _, err := h.updateLog.Append(c.Request.Context(), record); err != nil {
		// The upstream retries on non-2xx; duplicates are tolerated downstream.
		h.logger.Error("update append failed", zap.Error(err), zap.Int64("ticket_id", record.TicketID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}

	h.registry.Publish(StreamEvent{
		ID:              record.ID,
		TicketID:        record.TicketID,
		Event:           string(record.Event),
		CreatedAtMillis: record.CreatedAtMillis,
		Payload:         json.RawMessage(record.PayloadJSON),
	}, classification.Scope)

	h.notifyRecipients(c, classification, record)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// notifyRecipients writes the inbox entries derived from one update record.
// Reply-bearing events notify the counterpart of the author: agent replies
// reach the customer, customer messages reach the assigned agent. State and
// assignment changes notify the assigned agent.
func (h *httpHandler) notifyRecipients(c *gin.Context, classification updates.Classification, record *updates.UpdateRecord) {
	ownerUserID := ""
	if classification.OwnerID != 0 {
		ownerUserID = strconv.FormatInt(classification.OwnerID, 10)
	}

	type target struct {
		userID string
		kind   notifications.NotificationType
		title  string
		body   string
	}
	var targets []target

	switch record.Event {
	case updates.EventCreated:
		if ownerUserID != "" {
			targets = append(targets, target{
				userID: ownerUserID,
				kind:   notifications.TypeTicketReply,
				title:  fmt.Sprintf("New ticket #%d", record.TicketID),
				body:   "A new ticket was assigned to you.",
			})
		}
	case updates.EventArticleCreated:
		if classification.ActorSender == "Agent" {
			if record.CustomerID != "" {
				targets = append(targets, target{
					userID: record.CustomerID,
					kind:   notifications.TypeTicketReply,
					title:  fmt.Sprintf("New reply on ticket #%d", record.TicketID),
					body:   "An agent replied to your ticket.",
				})
			}
		} else if ownerUserID != "" {
			targets = append(targets, target{
				userID: ownerUserID,
				kind:   notifications.TypeTicketReply,
				title:  fmt.Sprintf("New reply on ticket #%d", record.TicketID),
				body:   "The customer replied to the ticket.",
			})
		}
	case updates.EventStatusChanged, updates.EventOwnerChanged:
		if ownerUserID != "" {
			targets = append(targets, target{
				userID: ownerUserID,
				kind:   notifications.TypeTicketUpdate,
				title:  fmt.Sprintf("Ticket #%d updated", record.TicketID),
				body:   "The ticket state or assignment changed.",
			})
		}
	}

	for _, entry := range targets {
		if _, err := h.notifications.Create(c.Request.Context(), notifications.CreateRequest{
			UserID:   entry.userID,
			Type:     entry.kind,
			Title:    entry.title,
			Body:     entry.body,
			DataJSON: fmt.Sprintf(`{"ticketId":%d}`, record.TicketID),
			TicketID: record.TicketID,
		}); err != nil {
			h.logger.Error("notification write failed",
				zap.Error(err),
				zap.Int64("update_id", record.ID),
				zap.String("user_id", entry.userID))
		}
	}
}
