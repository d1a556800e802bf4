package ledgererr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errRentalNotActive = New(InvalidState, "rental_not_active")

func TestErrorMatchesSentinelAndKind(t *testing.T) {
	wrapped := fmt.Errorf("use agent: %w", errRentalNotActive)

	assert.ErrorIs(t, wrapped, errRentalNotActive)
	assert.ErrorIs(t, wrapped, InvalidState)
	assert.False(t, errors.Is(wrapped, NotFound))
}

func TestKindOfAndCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", errRentalNotActive)

	assert.Equal(t, InvalidState, KindOf(wrapped))
	assert.Equal(t, "rental_not_active", CodeOf(wrapped))
	assert.Equal(t, NotFound, KindOf(NotFound))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "rental_not_active", errRentalNotActive.Error())
	assert.Equal(t, "payment_mismatch: expected 500", Newf(PaymentMismatch, "payment_mismatch", "expected 500").Error())
}
