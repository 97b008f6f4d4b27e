package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/dynamotest"
)

const (
	ordersTable      = "orders"
	idempotencyTable = "idempotency"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(ordersTable, "order_id", map[string]string{
		EmailIndex:  "email",
		StatusIndex: "status",
	})
	fake.CreateTable(idempotencyTable, "idempotency_key", nil)
	return NewStore(fake, ordersTable, WithTimeout(time.Second)), fake
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestStore_CreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	payload := map[string]interface{}{
		"product":  "Desk lamp",
		"quantity": float64(2),
		"shipping": map[string]interface{}{"city": "Dhaka"},
	}
	o := NewOrder("o-1", "ann@example.com", payload, t0)
	require.NoError(t, s.Create(ctx, o))

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "ann@example.com", got.CustomerEmail)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, payload, got.Payload)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Nil(t, got.ApprovedAt)
	require.Len(t, got.Tracking, 1)
	assert.Equal(t, StatusPending, got.Tracking[0].Status)
	assert.True(t, got.Tracking[0].Date.Equal(t0))
}

func TestStore_CreateRejectsExistingID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, NewOrder("o-1", "a@example.com", nil, t0)))
	err := s.Create(ctx, NewOrder("o-1", "b@example.com", nil, t0))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.CustomerEmail)
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ListByEmailAndStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, NewOrder("o-1", "ann@example.com", nil, t0)))
	require.NoError(t, s.Create(ctx, NewOrder("o-2", "bob@example.com", nil, t0)))
	require.NoError(t, s.Create(ctx, NewOrder("o-3", "ann@example.com", nil, t0)))

	_, err := s.UpdateStatus(ctx, "o-3", StatusPending, TrackingEvent{Status: StatusApproved, Date: t0}, &t0)
	require.NoError(t, err)

	mine, err := s.ListByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "o-1", mine[0].ID)
	assert.Equal(t, "o-3", mine[1].ID)

	pending, err := s.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	approved, err := s.ListByStatus(ctx, StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "o-3", approved[0].ID)

	none, err := s.ListByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Delete(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, NewOrder("o-1", "a@example.com", nil, t0)))

	deleted, err := s.Delete(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, fake.Len(ordersTable))

	deleted, err = s.Delete(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_UpdateStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewOrder("o-1", "a@example.com", nil, t0)))

	at := t0.Add(time.Hour)
	got, err := s.UpdateStatus(ctx, "o-1", StatusPending, TrackingEvent{Status: StatusApproved, Date: at}, &at)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.Len(t, got.Tracking, 2)
	assert.Equal(t, StatusApproved, got.Tracking[1].Status)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(at))
}

func TestStore_UpdateStatusGuard(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewOrder("o-1", "a@example.com", nil, t0)))

	_, err := s.UpdateStatus(ctx, "o-1", StatusApproved, TrackingEvent{Status: StatusRejected, Date: t0}, nil)
	assert.ErrorIs(t, err, ErrStatusMismatch)

	_, err = s.UpdateStatus(ctx, "missing", StatusPending, TrackingEvent{Status: StatusApproved, Date: t0}, nil)
	assert.ErrorIs(t, err, ErrStatusMismatch)

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Len(t, got.Tracking, 1)
}

func TestStore_AppendTracking(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewOrder("o-1", "a@example.com", nil, t0)))

	got, err := s.AppendTracking(ctx, "o-1", StatusPending, TrackingEvent{Status: StatusPending, Location: "Warehouse", Date: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	require.Len(t, got.Tracking, 2)
	assert.Equal(t, "Warehouse", got.Tracking[1].Location)

	_, err = s.AppendTracking(ctx, "o-1", StatusApproved, TrackingEvent{Status: StatusApproved, Date: t0})
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

type claim struct {
	Key     string `dynamodbav:"idempotency_key"`
	OrderID string `dynamodbav:"order_id"`
}

func TestStore_CreateWithIdempotencyTransaction(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	first := NewOrder("o-1", "a@example.com", nil, t0)
	require.NoError(t, s.CreateWithIdempotencyTransaction(ctx, idempotencyTable, claim{Key: "k1", OrderID: first.ID}, first))

	second := NewOrder("o-2", "a@example.com", nil, t0)
	err := s.CreateWithIdempotencyTransaction(ctx, idempotencyTable, claim{Key: "k1", OrderID: second.ID}, second)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	assert.Equal(t, 1, fake.Len(ordersTable))
	assert.Equal(t, 1, fake.Len(idempotencyTable))
}

func TestStore_StorageFailure(t *testing.T) {
	s, fake := newTestStore(t)
	fake.FailWith(errors.New("throttled"))

	_, err := s.Get(context.Background(), "o-1")
	assert.ErrorIs(t, err, apperr.ErrStorage)

	_, err = s.ListAll(context.Background())
	assert.ErrorIs(t, err, apperr.ErrStorage)

	_, err = s.Delete(context.Background(), "o-1")
	assert.ErrorIs(t, err, apperr.ErrStorage)
}
