package updates

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaydesk/backend/internal/authz"
)

// ErrMalformedPayload indicates a webhook body that cannot be classified.
var ErrMalformedPayload = errors.New("updates: malformed webhook payload")

// DefaultFirstContactTolerance is the default window within which a ticket
// and its opening article are collapsed into a single created event. The
// upstream delivers both objects in one call for new tickets; the window is
// a tunable heuristic, not a protocol contract.
const DefaultFirstContactTolerance = 5 * time.Second

// WebhookPayload mirrors the upstream delivery body: an optional ticket, an
// optional article, and an optional map of changed attributes.
type WebhookPayload struct {
	Ticket  *TicketPayload               `json:"ticket"`
	Article *ArticlePayload              `json:"article"`
	Changes map[string][]json.RawMessage `json:"changes"`
}

// TicketPayload carries the ticket fields relevant to classification and
// visibility scoping.
type TicketPayload struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	Title      string    `json:"title"`
	StateID    int64     `json:"state_id"`
	State      string    `json:"state"`
	OwnerID    int64     `json:"owner_id"`
	GroupID    int64     `json:"group_id"`
	CustomerID string    `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArticlePayload carries the article fields relevant to classification.
type ArticlePayload struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	From      string    `json:"from"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

// Classification is the outcome of classifying one webhook delivery: exactly
// one event with the payload to persist and the visibility scope of the
// affected ticket.
type Classification struct {
	Event       EventType
	TicketID    int64
	OwnerID     int64
	ActorSender string
	Scope       authz.TicketScope
	PayloadJSON string
}

// Classifier turns webhook deliveries into typed classifications.
type Classifier struct {
	firstContactTolerance time.Duration
}

// NewClassifier constructs a Classifier; a non-positive tolerance falls back
// to the default.
func NewClassifier(firstContactTolerance time.Duration) *Classifier {
	if firstContactTolerance <= 0 {
		firstContactTolerance = DefaultFirstContactTolerance
	}
	return &Classifier{firstContactTolerance: firstContactTolerance}
}

// Classify parses the raw webhook body and derives exactly one event.
func (c *Classifier) Classify(body []byte) (Classification, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c.ClassifyPayload(payload)
}

// ClassifyPayload derives exactly one event from a parsed delivery.
func (c *Classifier) ClassifyPayload(payload WebhookPayload) (Classification, error) {
	ticket := payload.Ticket
	article := payload.Article
	if ticket == nil && article == nil {
		return Classification{}, fmt.Errorf("%w: neither ticket nor article present", ErrMalformedPayload)
	}

	if ticket != nil && ticket.ID == 0 {
		return Classification{}, fmt.Errorf("%w: ticket id missing", ErrMalformedPayload)
	}

	classification := Classification{}
	if ticket != nil {
		classification.TicketID = ticket.ID
		classification.OwnerID = ticket.OwnerID
		classification.Scope = authz.TicketScope{GroupID: ticket.GroupID, CustomerID: ticket.CustomerID}
	}
	if article != nil {
		classification.ActorSender = article.Sender
		if classification.TicketID == 0 {
			classification.TicketID = article.TicketID
		}
	}
	if classification.TicketID == 0 {
		return Classification{}, fmt.Errorf("%w: no ticket id in delivery", ErrMalformedPayload)
	}

	switch {
	case ticket != nil && article != nil && c.isFirstContact(ticket, article):
		classification.Event = EventCreated
	case article != nil:
		classification.Event = EventArticleCreated
	case changesName(payload.Changes, "owner_id") && !changesName(payload.Changes, "state") && !changesName(payload.Changes, "state_id"):
		classification.Event = EventOwnerChanged
	default:
		classification.Event = EventStatusChanged
	}

	payloadJSON, err := encodeEventPayload(classification.Event, ticket, article)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	classification.PayloadJSON = payloadJSON

	return classification, nil
}

// isFirstContact reports whether the article is the ticket's opening message:
// created within the tolerance of the ticket itself.
func (c *Classifier) isFirstContact(ticket *TicketPayload, article *ArticlePayload) bool {
	if ticket.CreatedAt.IsZero() || article.CreatedAt.IsZero() {
		return false
	}
	delta := article.CreatedAt.Sub(ticket.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.firstContactTolerance
}

func changesName(changes map[string][]json.RawMessage, name string) bool {
	_, ok := changes[name]
	return ok
}

type createdEventPayload struct {
	Title     string `json:"title"`
	State     string `json:"state,omitempty"`
	StateID   int64  `json:"state_id,omitempty"`
	OwnerID   int64  `json:"owner_id,omitempty"`
	ArticleID int64  `json:"article_id,omitempty"`
	From      string `json:"from,omitempty"`
}

type statusChangedEventPayload struct {
	State   string `json:"state,omitempty"`
	StateID int64  `json:"state_id,omitempty"`
	OwnerID int64  `json:"owner_id,omitempty"`
}

type articleCreatedEventPayload struct {
	ArticleID int64  `json:"article_id"`
	From      string `json:"from,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Internal  bool   `json:"internal"`
}

type ownerChangedEventPayload struct {
	OwnerID int64 `json:"owner_id"`
}

func encodeEventPayload(event EventType, ticket *TicketPayload, article *ArticlePayload) (string, error) {
	var value any
	switch event {
	case EventCreated:
		payload := createdEventPayload{}
		if ticket != nil {
			payload.Title = ticket.Title
			payload.State = ticket.State
			payload.StateID = ticket.StateID
			payload.OwnerID = ticket.OwnerID
		}
		if article != nil {
			payload.ArticleID = article.ID
			payload.From = article.From
		}
		value = payload
	case EventStatusChanged:
		payload := statusChangedEventPayload{}
		if ticket != nil {
			payload.State = ticket.State
			payload.StateID = ticket.StateID
			payload.OwnerID = ticket.OwnerID
		}
		value = payload
	case EventArticleCreated:
		payload := articleCreatedEventPayload{}
		if article != nil {
			payload.ArticleID = article.ID
			payload.From = article.From
			payload.Sender = article.Sender
			payload.Subject = article.Subject
			payload.Internal = article.Internal
		}
		value = payload
	case EventOwnerChanged:
		payload := ownerChangedEventPayload{}
		if ticket != nil {
			payload.OwnerID = ticket.OwnerID
		}
		value = payload
	default:
		return "", fmt.Errorf("unsupported event type %q", event)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
