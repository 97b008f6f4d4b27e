package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/aws"
)

// tickingClock advances one second per reading.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
	err    error
}

func (p *recordingPublisher) Send(_ context.Context, msg aws.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var ev LifecycleEvent
	if err := json.Unmarshal([]byte(msg.Body), &ev); err != nil {
		return err
	}
	if msg.GroupID != ev.OrderID || msg.DeduplicationID != ev.EventID {
		return errors.New("message not keyed by order and event")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type testClaimer struct{}

func (testClaimer) TableName() string { return idempotencyTable }

func (testClaimer) NewClaim(key, orderID, _ string) interface{} {
	return claim{Key: key, OrderID: orderID}
}

func newTestLifecycle(t *testing.T) (*Lifecycle, *Store, *recordingPublisher) {
	t.Helper()
	store, _ := newTestStore(t)
	pub := &recordingPublisher{}
	clock := &tickingClock{now: t0}
	return NewLifecycle(store, WithPublisher(pub), WithNow(clock.Now)), store, pub
}

func TestLifecycle_SubmitCreatesPendingOrder(t *testing.T) {
	l, store, pub := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", map[string]interface{}{"product": "Mug"})
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	require.Len(t, got.Tracking, 1)
	assert.Equal(t, StatusPending, got.Tracking[0].Status)
	assert.True(t, got.Tracking[0].Date.Equal(got.CreatedAt))
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, map[string]interface{}{"product": "Mug"}, got.Payload)

	assert.Equal(t, []string{EventCreated}, pub.types())
}

func TestLifecycle_ApproveSetsApprovedAt(t *testing.T) {
	l, _, pub := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", nil)
	require.NoError(t, err)

	got, err := l.ApplyStatus(ctx, o.ID, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.Len(t, got.Tracking, 2)
	assert.Equal(t, got.Status, got.Tracking[len(got.Tracking)-1].Status)
	require.NotNil(t, got.ApprovedAt)
	assert.False(t, got.ApprovedAt.Before(got.CreatedAt))

	assert.Equal(t, []string{EventCreated, EventStatusChanged}, pub.types())
}

func TestLifecycle_RejectLeavesApprovedAtUnset(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", nil)
	require.NoError(t, err)

	got, err := l.ApplyStatus(ctx, o.ID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, StatusRejected, got.Tracking[len(got.Tracking)-1].Status)
	assert.Nil(t, got.ApprovedAt)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	cases := []struct {
		name  string
		first Status
		next  Status
	}{
		{"pending to pending", "", StatusPending},
		{"approve twice", StatusApproved, StatusApproved},
		{"approved to rejected", StatusApproved, StatusRejected},
		{"rejected to approved", StatusRejected, StatusApproved},
		{"rejected to pending", StatusRejected, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, store, _ := newTestLifecycle(t)
			ctx := context.Background()

			o, err := l.Submit(ctx, "ann@example.com", nil)
			require.NoError(t, err)
			if tc.first != "" {
				_, err = l.ApplyStatus(ctx, o.ID, tc.first)
				require.NoError(t, err)
			}
			before, err := store.Get(ctx, o.ID)
			require.NoError(t, err)

			_, err = l.ApplyStatus(ctx, o.ID, tc.next)
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

			after, err := store.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
			assert.Len(t, after.Tracking, len(before.Tracking))
		})
	}
}

func TestLifecycle_ApplyStatusMissingOrder(t *testing.T) {
	l, _, _ := newTestLifecycle(t)

	_, err := l.ApplyStatus(context.Background(), "missing", StatusApproved)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLifecycle_ConcurrentApproveAndReject(t *testing.T) {
	for i := 0; i < 20; i++ {
		l, store, _ := newTestLifecycle(t)
		ctx := context.Background()

		o, err := l.Submit(ctx, "ann@example.com", nil)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			results = make([]error, 2)
		)
		for j, next := range []Status{StatusApproved, StatusRejected} {
			wg.Add(1)
			go func(j int, next Status) {
				defer wg.Done()
				<-start
				_, results[j] = l.ApplyStatus(ctx, o.ID, next)
			}(j, next)
		}
		close(start)
		wg.Wait()

		var wins, losses int
		for _, err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrInvalidTransition):
				losses++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, losses)

		final, err := store.Get(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, final.Tracking, 2)
		assert.Equal(t, final.Status, final.Tracking[1].Status)
		if final.Status == StatusApproved {
			assert.NotNil(t, final.ApprovedAt)
		} else {
			assert.Nil(t, final.ApprovedAt)
		}
	}
}

func TestLifecycle_AppendTrackingDetail(t *testing.T) {
	l, _, pub := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", nil)
	require.NoError(t, err)
	_, err = l.ApplyStatus(ctx, o.ID, StatusApproved)
	require.NoError(t, err)

	got, err := l.AppendTrackingDetail(ctx, o.ID, TrackingDetail{Location: "Chittagong hub", Note: "left depot"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.Len(t, got.Tracking, 3)
	last := got.Tracking[2]
	assert.Equal(t, StatusApproved, last.Status)
	assert.Equal(t, "Chittagong hub", last.Location)
	assert.Equal(t, "left depot", last.Note)

	got, err = l.AppendTrackingDetail(ctx, o.ID, TrackingDetail{Location: "Dhaka", Label: "Shipped", Note: "truck 7"})
	require.NoError(t, err)
	require.Len(t, got.Tracking, 4)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, StatusApproved, got.Tracking[3].Status)
	assert.Equal(t, "Shipped: truck 7", got.Tracking[3].Note)

	assert.Equal(t, []string{EventCreated, EventStatusChanged, EventTrackingAppended, EventTrackingAppended}, pub.types())
}

func TestLifecycle_AppendTrackingLabelNeverChangesStatus(t *testing.T) {
	l, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", nil)
	require.NoError(t, err)

	_, err = l.AppendTrackingDetail(ctx, o.ID, TrackingDetail{Location: "Dhaka", Label: "Approved"})
	require.NoError(t, err)

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	require.Len(t, got.Tracking, 2)
	assert.Equal(t, StatusPending, got.Tracking[1].Status)
	assert.Equal(t, "Approved", got.Tracking[1].Note)
	assert.Nil(t, got.ApprovedAt)

	_, err = l.AppendTrackingDetail(ctx, "missing", TrackingDetail{Location: "Dhaka"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLifecycle_PublishFailureDoesNotFailRequest(t *testing.T) {
	l, store, pub := newTestLifecycle(t)
	pub.err = errors.New("queue unavailable")
	ctx := context.Background()

	o, err := l.Submit(ctx, "ann@example.com", nil)
	require.NoError(t, err)
	_, err = l.ApplyStatus(ctx, o.ID, StatusApproved)
	require.NoError(t, err)

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestLifecycle_SubmitIdempotent(t *testing.T) {
	l, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	o, err := l.SubmitIdempotent(ctx, "key-1", "hash-1", "ann@example.com", nil, testClaimer{})
	require.NoError(t, err)

	_, err = l.SubmitIdempotent(ctx, "key-1", "hash-1", "ann@example.com", nil, testClaimer{})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, o.ID, all[0].ID)
}

func TestCurrentStatus(t *testing.T) {
	o := NewOrder("o-1", "a@example.com", nil, t0)
	st, err := CurrentStatus(o)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	o.Status = StatusApproved
	_, err = CurrentStatus(o)
	assert.ErrorIs(t, err, ErrStatusDrift)

	o.Tracking = nil
	_, err = CurrentStatus(o)
	assert.ErrorIs(t, err, ErrStatusDrift)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	for _, bad := range []string{"approved", "APPROVED", "Shipped", ""} {
		_, err := ParseStatus(bad)
		assert.Error(t, err, bad)
	}
}
