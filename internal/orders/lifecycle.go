package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/aws"
	"github.com/imrishuroy/shop-orderflow/internal/metrics"
)

// ErrStatusDrift means an order's status disagrees with the tail of its
// tracking history.
var ErrStatusDrift = errors.New("order status drifted from tracking history")

// maxAppendAttempts bounds retries of a tracking append that keeps losing
// to concurrent status changes.
const maxAppendAttempts = 3

// Publisher sends lifecycle events to the orders queue.
type Publisher interface {
	Send(ctx context.Context, msg aws.Message) error
}

// Claimer builds the idempotency claim written alongside a new order.
type Claimer interface {
	TableName() string
	NewClaim(key, orderID, requestHash string) interface{}
}

// Lifecycle owns every mutation of an order after creation. Status changes
// go through CanTransition and a compare-and-set on the stored status, so
// two racing transitions cannot both win.
type Lifecycle struct {
	store     *Store
	publisher Publisher
	logger    *zap.SugaredLogger
	nowFunc   func() time.Time
}

type LifecycleOption func(*Lifecycle)

// WithPublisher enables lifecycle event publishing.
func WithPublisher(p Publisher) LifecycleOption {
	return func(l *Lifecycle) { l.publisher = p }
}

func WithLogger(logger *zap.SugaredLogger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = logger }
}

func WithNow(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.nowFunc = now }
}

func NewLifecycle(store *Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:   store,
		logger:  zap.NewNop().Sugar(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentStatus returns the order's status after checking it against the
// last tracking event.
func CurrentStatus(o Order) (Status, error) {
	if len(o.Tracking) == 0 {
		return "", errors.Wrapf(ErrStatusDrift, "order %s has no tracking history", o.ID)
	}
	if tail := o.Tracking[len(o.Tracking)-1].Status; tail != o.Status {
		return "", errors.Wrapf(ErrStatusDrift, "order %s: status %s, last event %s", o.ID, o.Status, tail)
	}
	return o.Status, nil
}

// Submit creates a new Pending order.
func (l *Lifecycle) Submit(ctx context.Context, email string, payload map[string]interface{}) (Order, error) {
	o := NewOrder(uuid.NewString(), email, payload, l.nowFunc())
	if err := l.store.Create(ctx, o); err != nil {
		return Order{}, err
	}
	l.created(ctx, o)
	return o, nil
}

// SubmitIdempotent creates the order and the idempotency claim for key in one
// transaction. A key that was already claimed yields ErrDuplicateSubmission.
func (l *Lifecycle) SubmitIdempotent(ctx context.Context, key, requestHash, email string, payload map[string]interface{}, claimer Claimer) (Order, error) {
	o := NewOrder(uuid.NewString(), email, payload, l.nowFunc())
	claim := claimer.NewClaim(key, o.ID, requestHash)
	if err := l.store.CreateWithIdempotencyTransaction(ctx, claimer.TableName(), claim, o); err != nil {
		return Order{}, err
	}
	l.created(ctx, o)
	return o, nil
}

func (l *Lifecycle) created(ctx context.Context, o Order) {
	metrics.OrderTransitionsTotal.WithLabelValues("", string(StatusPending), metrics.ResultOK).Inc()
	l.publish(ctx, LifecycleEvent{
		Type:    EventCreated,
		OrderID: o.ID,
		To:      StatusPending,
		At:      o.CreatedAt,
	})
}

// ApplyStatus moves an order to next and returns the updated snapshot.
func (l *Lifecycle) ApplyStatus(ctx context.Context, id string, next Status) (*Order, error) {
	o, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := CurrentStatus(*o)
	if err != nil {
		return nil, apperr.Storage("order history is inconsistent", err)
	}
	if !CanTransition(current, next) {
		metrics.OrderTransitionsTotal.WithLabelValues(string(current), string(next), metrics.ResultRejected).Inc()
		return nil, apperr.InvalidTransition(fmt.Sprintf("cannot change order status from %s to %s", current, next), nil)
	}

	now := l.nowFunc().UTC()
	if now.Before(o.CreatedAt) {
		now = o.CreatedAt
	}
	var approvedAt *time.Time
	if next == StatusApproved && o.ApprovedAt == nil {
		approvedAt = &now
	}

	updated, err := l.store.UpdateStatus(ctx, id, current, TrackingEvent{Status: next, Date: now}, approvedAt)
	if errors.Is(err, ErrStatusMismatch) {
		metrics.OrderTransitionsTotal.WithLabelValues(string(current), string(next), metrics.ResultConflict).Inc()
		if _, lerr := l.load(ctx, id); lerr != nil {
			return nil, lerr
		}
		return nil, apperr.InvalidTransition("order status was changed concurrently", err)
	}
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(current), string(next), metrics.ResultOK).Inc()
	l.logger.Infow("order status changed", "order_id", id, "from", current, "to", next)
	l.publish(ctx, LifecycleEvent{
		Type:    EventStatusChanged,
		OrderID: id,
		From:    current,
		To:      next,
		At:      now,
	})
	return updated, nil
}

// AppendTrackingDetail records a tracking event carrying the current status.
func (l *Lifecycle) AppendTrackingDetail(ctx context.Context, id string, d TrackingDetail) (*Order, error) {
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		o, err := l.load(ctx, id)
		if err != nil {
			return nil, err
		}
		current, err := CurrentStatus(*o)
		if err != nil {
			return nil, apperr.Storage("order history is inconsistent", err)
		}

		now := l.nowFunc().UTC()
		updated, err := l.store.AppendTracking(ctx, id, current, TrackingEvent{
			Status:   current,
			Location: d.Location,
			Note:     d.note(),
			Date:     now,
		})
		if errors.Is(err, ErrStatusMismatch) {
			l.logger.Debugw("tracking append lost a race, retrying", "order_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		l.publish(ctx, LifecycleEvent{
			Type:     EventTrackingAppended,
			OrderID:  id,
			To:       current,
			Location: d.Location,
			Note:     d.note(),
			At:       now,
		})
		return updated, nil
	}
	return nil, apperr.InvalidTransition("order is changing too quickly, try again", ErrStatusMismatch)
}

func (l *Lifecycle) load(ctx context.Context, id string) (*Order, error) {
	o, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("Order not found")
	}
	return o, nil
}

// publish is best-effort: a failed send is logged and never fails the caller.
func (l *Lifecycle) publish(ctx context.Context, ev LifecycleEvent) {
	if l.publisher == nil {
		return
	}
	ev.EventID = uuid.NewString()
	body, err := json.Marshal(ev)
	if err != nil {
		l.logger.Errorw("marshal lifecycle event", "order_id", ev.OrderID, "error", err)
		return
	}
	msg := aws.Message{
		Body:            string(body),
		GroupID:         ev.OrderID,
		DeduplicationID: ev.EventID,
		Attributes: map[string]string{
			"event_type": ev.Type,
			"order_id":   ev.OrderID,
			"status":     string(ev.To),
		},
	}
	if err := l.publisher.Send(ctx, msg); err != nil {
		l.logger.Warnw("publish lifecycle event failed", "order_id", ev.OrderID, "type", ev.Type, "error", err)
	}
}
