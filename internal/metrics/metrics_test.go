package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CheckoutTotal.WithLabelValues("completed").Inc()
	m.CartLinesDropped.Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckoutTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CartLinesDropped))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["storefront_checkout_requests_total"])
	assert.True(t, names["storefront_cart_lines_dropped_total"])
}

func TestOr_NilGivesUsableMetrics(t *testing.T) {
	m := Or(nil)
	require.NotNil(t, m)
	m.OutboxPublished.WithLabelValues("ok").Inc()
}
