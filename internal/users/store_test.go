package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("users", "user_id", nil)
	return NewStore(fake, "users", time.Second), fake
}

func TestIDFor_CaseInsensitive(t *testing.T) {
	assert.Equal(t, IDFor("Ann@Example.com"), IDFor(" ann@example.com"))
	assert.NotEqual(t, IDFor("ann@example.com"), IDFor("bob@example.com"))
}

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	u, err := s.Upsert(ctx, "ann@example.com", "customer")
	require.NoError(t, err)
	assert.Equal(t, IDFor("ann@example.com"), u.ID)
	assert.Equal(t, "customer", u.Role)

	u, err = s.Upsert(ctx, "ANN@example.com", "manager")
	require.NoError(t, err)
	assert.Equal(t, "manager", u.Role)
	assert.Equal(t, 1, fake.Len("users"))
}

func TestRegister_Conflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "ann@example.com", "customer")
	require.NoError(t, err)

	_, err = s.Register(ctx, "ann@example.com", "admin")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "customer", all[0].Role)
}

func TestUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "ann@example.com", "customer")
	require.NoError(t, err)

	got, err := s.Update(ctx, u.ID, Changes{Status: "suspended"})
	require.NoError(t, err)
	assert.Equal(t, "customer", got.Role)
	assert.Equal(t, "suspended", got.Status)

	_, err = s.Update(ctx, "missing", Changes{Role: "admin"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.Update(ctx, u.ID, Changes{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestList_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}
