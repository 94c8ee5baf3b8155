package audit

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestRecordFields(t *testing.T) {
	r := Record{
		Event:      EventGridRearm,
		StrategyID: "g1",
		Side:       "SELL",
		Price:      "105",
		Level:      Int(0),
	}
	f := r.Fields()
	assert.Equal(t, "0", f["level"])
	assert.Equal(t, "105", f["price"])
	_, hasQty := f["qty"]
	assert.False(t, hasQty)
}

func TestNATSRecorderPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	rec := NewPublisherRecorder(pub, "algo.audit", nil)
	rec.Record(Record{Time: time.Unix(0, 0).UTC(), Event: EventStrategyCreated, StrategyID: "abc", Kind: "twap", Symbol: "BTCUSDT"})
	rec.Record(Record{Event: EventInconsistency, Symbol: "BTCUSDT", Reason: "unknown order"})

	require.Len(t, pub.subjects, 2)
	assert.Equal(t, "algo.audit.twap.abc", pub.subjects[0])
	assert.Equal(t, "algo.audit.engine", pub.subjects[1])

	var got Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, EventStrategyCreated, got.Event)
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestNATSRecorderSwallowsPublishError(t *testing.T) {
	rec := NewPublisherRecorder(&fakePublisher{err: errors.New("nats: connection closed")}, "", nil)
	assert.NotPanics(t, func() { rec.Record(Record{Event: EventOrderPlaced}) })
}

func TestZapRecorderFlagsMissingFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := NewZapRecorder(zap.New(core))

	rec.Record(Record{Event: EventOrderPlaced, StrategyID: "s", Symbol: "BTCUSDT", ClientID: "c", Side: "BUY", Qty: "1"})
	assert.Equal(t, 0, logs.FilterMessage("audit record schema mismatch").Len())

	rec.Record(Record{Event: EventOrderPlaced, StrategyID: "s"})
	assert.Equal(t, 1, logs.FilterMessage("audit record schema mismatch").Len())
	assert.Equal(t, 2, logs.FilterMessage("strategy_event").Len())
}

func TestMultiAndMemory(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	m := Multi{a, nil, b}
	m.Record(Record{Event: EventSliceRetry, StrategyID: "t1"})
	m.Record(Record{Event: EventSliceRetry, StrategyID: "t2"})
	assert.Len(t, a.Records(), 2)
	assert.Equal(t, 1, b.Count("t1", EventSliceRetry))
	assert.Equal(t, 2, b.Count("", EventSliceRetry))
	assert.Len(t, a.ByStrategy("t2"), 1)
}
