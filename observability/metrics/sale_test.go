package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"tokensale/core/events"
)

type fakeEvent struct{ payload *events.Payload }

func (e fakeEvent) EventType() string        { return e.payload.Type }
func (e fakeEvent) Payload() *events.Payload { return e.payload }

type reasonErr string

func (r reasonErr) Error() string  { return string(r) }
func (r reasonErr) Reason() string { return string(r) }

func TestObserveCountsOutcomes(t *testing.T) {
	m := Sale()
	before := testutil.ToFloat64(m.operations.WithLabelValues("metrics_test", "error"))

	m.Observe("metrics_test", time.Millisecond, nil)
	m.Observe("metrics_test", time.Millisecond, reasonErr("sale ended"))
	m.Observe("metrics_test", time.Millisecond, errors.New("boom"))

	require.Equal(t, before+2, testutil.ToFloat64(m.operations.WithLabelValues("metrics_test", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("metrics_test", "sale ended")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("metrics_test", "internal")))
}

func TestEmitAccumulatesPurchaseVolume(t *testing.T) {
	m := Sale()
	m.Emit(fakeEvent{payload: &events.Payload{Type: "sale.created", Attributes: map[string]string{"asset": "MTRC"}}})
	m.Emit(fakeEvent{payload: &events.Payload{Type: "sale.purchased", Attributes: map[string]string{
		"asset": "MTRC", "paymentAsset": "MUSD", "amount": "100", "fee": "25",
	}}})
	m.Emit(fakeEvent{payload: &events.Payload{Type: "sale.purchased", Attributes: map[string]string{
		"asset": "MTRC", "paymentAsset": "MUSD", "amount": "5", "fee": "0",
	}}})

	require.Equal(t, 2.0, testutil.ToFloat64(m.purchases.WithLabelValues("MTRC")))
	require.Equal(t, 105.0, testutil.ToFloat64(m.tokensSold.WithLabelValues("MTRC")))
	require.Equal(t, 25.0, testutil.ToFloat64(m.fees.WithLabelValues("MUSD")))

	var nilMetrics *SaleMetrics
	nilMetrics.Emit(nil)
	nilMetrics.Observe("noop", 0, nil)
}
