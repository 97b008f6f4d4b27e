package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("create order: %w", apperr.Storage("failed to create order", cause))

	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)

	msg, ok := apperr.MessageOf(err)
	require.True(t, ok)
	assert.Equal(t, "failed to create order", msg)
}

func TestError_Format(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := apperr.NotFound("Order not found")
		assert.Equal(t, "not found: Order not found", err.Error())
		assert.Len(t, err.Unwrap(), 1)
	})

	t.Run("with cause", func(t *testing.T) {
		err := apperr.PaymentGateway("payment provider unavailable", errors.New("timeout"))
		assert.Equal(t, "payment gateway error: payment provider unavailable (cause: timeout)", err.Error())
	})
}

func TestMessageOf_PlainError(t *testing.T) {
	_, ok := apperr.MessageOf(errors.New("boom"))
	assert.False(t, ok)
}
