package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(FanOutDeliveries.WithLabelValues("succeeded"))
	RecordDelivery("succeeded")
	RecordDelivery("succeeded")
	assert.Equal(t, before+2, testutil.ToFloat64(FanOutDeliveries.WithLabelValues("succeeded")))
}

func TestRecordDrift(t *testing.T) {
	RecordDrift("edge", "FOLLOWS", -3)
	assert.Equal(t, float64(-3), testutil.ToFloat64(ReconcileDrift.WithLabelValues("edge", "FOLLOWS")))

	RecordDrift("edge", "FOLLOWS", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(ReconcileDrift.WithLabelValues("edge", "FOLLOWS")))
}
