// Package analytics records storefront visits and affiliate clicks, ships them
// over Pub/Sub into BigQuery and summarizes them for the admin dashboard.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes page visits from affiliate clicks.
type EventType string

const (
	EventVisit EventType = "visit"
	EventClick EventType = "click"
)

// ErrInvalidEvent is returned for events that cannot be recorded.
var ErrInvalidEvent = errors.New("invalid analytics event")

// Event is a single visit or click. The bigquery tags define the warehouse
// table schema.
type Event struct {
	ID         string    `json:"id" bigquery:"event_id"`
	Type       EventType `json:"type" bigquery:"event_type"`
	ProductID  string    `json:"product_id,omitempty" bigquery:"product_id"`
	VisitorID  string    `json:"visitor_id,omitempty" bigquery:"visitor_id"`
	Path       string    `json:"path,omitempty" bigquery:"path"`
	Referrer   string    `json:"referrer,omitempty" bigquery:"referrer"`
	UserAgent  string    `json:"user_agent,omitempty" bigquery:"user_agent"`
	OccurredAt time.Time `json:"occurred_at" bigquery:"occurred_at"`
}

// Validate checks that e can be recorded.
func (e Event) Validate() error {
	switch e.Type {
	case EventVisit:
	case EventClick:
		if e.ProductID == "" {
			return fmt.Errorf("%w: click without product_id", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// stamp fills in the id and timestamp of events recorded without them.
func (e Event) stamp(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	return e
}

// Tracker records events. Implementations must not block the caller on
// network round trips longer than ctx allows.
type Tracker interface {
	Track(ctx context.Context, e Event) error
}

// ProductStat counts clicks on one product.
type ProductStat struct {
	ProductID string `json:"product_id" bigquery:"product_id"`
	Clicks    int64  `json:"clicks" bigquery:"clicks"`
}

// Summary aggregates events since a point in time.
type Summary struct {
	Since          time.Time     `json:"since"`
	Visits         int64         `json:"visits"`
	Clicks         int64         `json:"clicks"`
	UniqueVisitors int64         `json:"unique_visitors"`
	TopProducts    []ProductStat `json:"top_products"`
}

// Reporter summarizes recorded events.
type Reporter interface {
	Summarize(ctx context.Context, since time.Time, top int) (Summary, error)
}
