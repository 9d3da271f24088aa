package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))

	err := Wrap(ErrOrderRejected, "place order")
	assert.EqualError(t, err, "place order: order rejected by exchange")
	assert.True(t, Is(err, ErrOrderRejected))

	err = Wrapf(ErrExchangeUnavailable, "binance %s", "ticker")
	assert.EqualError(t, err, "binance ticker: exchange unavailable")
	assert.True(t, Is(err, ErrExchangeUnavailable))
}

func TestValidationError(t *testing.T) {
	err := Wrap(NewValidationError("quantity", "must be positive", "-1"), "order")

	assert.True(t, Is(err, ErrInvalidInput))

	var verr *ValidationError
	if assert.True(t, As(err, &verr)) {
		assert.Equal(t, "quantity", verr.Field)
	}
	assert.Equal(t, "order: validation error: field 'quantity': must be positive (value: -1)", err.Error())
	assert.Equal(t, "warning", fmt.Sprint(LevelWarning))
}
