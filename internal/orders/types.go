package orders

import (
	"fmt"
	"time"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// ParseStatus accepts exactly one of the three known statuses. Matching is
// case-sensitive.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// transitions lists the allowed moves. Approved and Rejected are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TrackingEvent is one entry of an order's append-only history.
type TrackingEvent struct {
	Status   Status    `dynamodbav:"status" json:"status"`
	Location string    `dynamodbav:"location,omitempty" json:"location,omitempty"`
	Note     string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	Date     time.Time `dynamodbav:"date" json:"date"`
}

// Order is the item stored in the orders table.
type Order struct {
	ID            string                 `dynamodbav:"order_id" json:"_id"`
	CustomerEmail string                 `dynamodbav:"email" json:"customerEmail"`
	Payload       map[string]interface{} `dynamodbav:"payload,omitempty" json:"payload,omitempty"`
	Status        Status                 `dynamodbav:"status" json:"status"`
	Tracking      []TrackingEvent        `dynamodbav:"tracking" json:"tracking"`
	CreatedAt     time.Time              `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time              `dynamodbav:"updated_at" json:"updatedAt"`
	ApprovedAt    *time.Time             `dynamodbav:"approved_at,omitempty" json:"approvedAt,omitempty"`
}

// NewOrder builds a Pending order whose history holds a single Pending event.
func NewOrder(id, email string, payload map[string]interface{}, now time.Time) Order {
	now = now.UTC()
	return Order{
		ID:            id,
		CustomerEmail: email,
		Payload:       payload,
		Status:        StatusPending,
		Tracking:      []TrackingEvent{{Status: StatusPending, Date: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Lifecycle event types published after each successful mutation.
const (
	EventCreated          = "order.created"
	EventStatusChanged    = "order.status_changed"
	EventTrackingAppended = "order.tracking_appended"
)

// LifecycleEvent is the message body sent to the orders queue.
type LifecycleEvent struct {
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	OrderID  string    `json:"order_id"`
	From     Status    `json:"from,omitempty"`
	To       Status    `json:"to"`
	Location string    `json:"location,omitempty"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

// TrackingDetail is the caller-supplied part of a tracking append.
type TrackingDetail struct {
	Location string
	Note     string
	// Label is a free-form logistics status such as "Shipped". It is kept in
	// the event note; the event itself always carries the order's status.
	Label string
}

func (d TrackingDetail) note() string {
	switch {
	case d.Label == "":
		return d.Note
	case d.Note == "":
		return d.Label
	default:
		return d.Label + ": " + d.Note
	}
}
