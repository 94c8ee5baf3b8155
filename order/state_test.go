package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalZero() decimal.Decimal { return decimal.Zero }

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusFilled, StatusCanceled, StatusRejected, StatusExpired} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusNew, StatusPartiallyFilled} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.Equal(t, SideSell, SideBuy.Opposite())
}

func TestOrderApply(t *testing.T) {
	o := Order{ClientID: "c1", Quantity: d("3"), Status: StatusNew}

	changed, err := o.Apply(FillEvent{ClientID: "c1", OrderID: "9", Status: StatusPartiallyFilled, FilledQty: d("1"), AvgPrice: d("10")})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "9", o.ID)
	assert.True(t, o.Unfilled().Equal(d("2")))

	// 重复回报幂等
	changed, err = o.Apply(FillEvent{ClientID: "c1", Status: StatusPartiallyFilled, FilledQty: d("1")})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, o.AvgPrice.Equal(d("10")))

	_, err = o.Apply(FillEvent{ClientID: "c1", Status: StatusPartiallyFilled, FilledQty: d("0.5")})
	var inc *ErrInconsistent
	require.ErrorAs(t, err, &inc)

	_, err = o.Apply(FillEvent{ClientID: "c1", Status: StatusFilled, FilledQty: d("3")})
	require.NoError(t, err)
	assert.False(t, o.IsLive())

	_, err = o.Apply(FillEvent{ClientID: "c1", Status: StatusCanceled, FilledQty: d("3")})
	assert.Error(t, err, "terminal order cannot move")
	assert.Equal(t, StatusFilled, o.Status)
}

func TestCanCancel(t *testing.T) {
	assert.True(t, CanCancel(StatusNew))
	assert.True(t, CanCancel(StatusPartiallyFilled))
	assert.False(t, CanCancel(StatusPending))
	assert.False(t, CanCancel(StatusFilled))
	assert.False(t, CanCancel(StatusCanceled))

	sm := NewStateMachine()
	assert.Error(t, sm.ValidateTransition(StatusFilled, StatusNew))
	assert.NoError(t, sm.ValidateTransition(StatusPartiallyFilled, StatusExpired))
}
