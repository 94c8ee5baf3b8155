package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/order"
)

func TestParseUserDataOrderUpdate(t *testing.T) {
	raw := []byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1568879465651,"T":1568879465650,
		"o":{"s":"BTCUSDT","c":"ae123","S":"SELL","o":"LIMIT","f":"GTC","q":"3","p":"110","ap":"110.5",
		     "sp":"0","x":"TRADE","X":"PARTIALLY_FILLED","i":8886774,"l":"1","z":"2","L":"111","T":1568879465650}
	}`)
	ev, err := ParseUserData(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ORDER_TRADE_UPDATE", ev.EventType)

	fill := ev.Order.FillEvent()
	assert.Equal(t, "BTCUSDT", fill.Symbol)
	assert.Equal(t, "ae123", fill.ClientID)
	assert.Equal(t, "8886774", fill.OrderID)
	assert.Equal(t, order.StatusPartiallyFilled, fill.Status)
	assert.Equal(t, "2", fill.FilledQty.String(), "cumulative qty, not last fill")
	assert.Equal(t, "110.5", fill.AvgPrice.String())
	assert.False(t, fill.Time.IsZero())
}

func TestParseUserDataCombinedAndNonEvent(t *testing.T) {
	raw := []byte(`{"stream":"key","data":{"e":"listenKeyExpired","E":1}}`)
	ev, err := ParseUserData(raw)
	require.NoError(t, err)
	assert.Equal(t, "listenKeyExpired", ev.EventType)

	_, err = ParseUserData([]byte(`{"result":null,"id":1}`))
	assert.ErrorIs(t, err, ErrNonUserData)

	_, err = ParseUserData([]byte(`not json`))
	assert.Error(t, err)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, order.StatusExpired, mapStatus("EXPIRED_IN_MATCH"))
	assert.Equal(t, order.StatusNew, mapStatus("NEW"))
	assert.Equal(t, order.StatusCanceled, mapStatus("CANCELED"))
}
