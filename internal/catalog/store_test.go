package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/dynamotest"
)

const table = "products"

func seeded(t *testing.T, n int) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable(table, "product_id", nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		manager := "alice@example.com"
		if i%2 == 1 {
			manager = "bob@example.com"
		}
		fake.MustPut(table, Product{
			ID:           fmt.Sprintf("p-%d", i),
			Title:        fmt.Sprintf("Product %d", i),
			Price:        float64(10 + i),
			ManagerEmail: manager,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		})
	}
	return NewStore(fake, table, time.Second), fake
}

func TestFeatured_LimitsToSix(t *testing.T) {
	s, _ := seeded(t, 9)

	got, err := s.Featured(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, FeaturedLimit)
}

func TestFeatured_FewerThanLimit(t *testing.T) {
	s, _ := seeded(t, 2)

	got, err := s.Featured(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListAll_NewestFirst(t *testing.T) {
	s, _ := seeded(t, 4)

	got, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "p-3", got[0].ID)
	assert.Equal(t, "p-0", got[3].ID)
}

func TestListByManager(t *testing.T) {
	s, _ := seeded(t, 5)

	got, err := s.ListByManager(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, "bob@example.com", p.ManagerEmail)
	}

	none, err := s.ListByManager(context.Background(), "carol@example.com")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGet(t *testing.T) {
	s, _ := seeded(t, 1)

	p, err := s.Get(context.Background(), "p-0")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Product 0", p.Title)

	p, err = s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStorageError(t *testing.T) {
	s, fake := seeded(t, 1)
	fake.FailWith(errors.New("down"))

	_, err := s.ListAll(context.Background())
	assert.ErrorIs(t, err, apperr.ErrStorage)
}
