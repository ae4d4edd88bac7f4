package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/psds-microservice/book-service/internal/service"
	"github.com/segmentio/kafka-go"
)

const (
	EventBookUpserted = "book.upserted"
	EventBookDeleted  = "book.deleted"
)

// BookEvent: событие книги из топиков books.*
type BookEvent struct {
	Event string        `json:"event"`
	ID    string        `json:"id,omitempty"`
	Book  *service.Book `json:"book,omitempty"`
}

// DocID returns the document the event is about: the explicit id, else book.id.
func (e *BookEvent) DocID() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Book != nil {
		return e.Book.ID
	}
	return ""
}

// ParseBookEvent decodes and checks a message. The book ID is filled from the event ID when missing.
func ParseBookEvent(msg kafka.Message) (*BookEvent, error) {
	var ev BookEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal book event: %w", err)
	}
	if ev.Event == "" && len(msg.Key) > 0 {
		ev.Event = EventBookUpserted
	}
	id := ev.DocID()
	if id == "" && len(msg.Key) > 0 {
		id = string(msg.Key)
		ev.ID = id
	}
	if id == "" {
		return nil, fmt.Errorf("book event %q: missing id", ev.Event)
	}

	switch ev.Event {
	case EventBookUpserted:
		if ev.Book == nil {
			return nil, fmt.Errorf("book event %q for %s: missing book", ev.Event, id)
		}
		if ev.Book.ID == "" {
			ev.Book.ID = id
		}
		if ev.Book.ID != id {
			return nil, fmt.Errorf("book event %q: id %s does not match book.id %s", ev.Event, id, ev.Book.ID)
		}
	case EventBookDeleted:
	default:
		return nil, fmt.Errorf("unknown book event %q", ev.Event)
	}
	return &ev, nil
}
