package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNodeMetricsShareSeries(t *testing.T) {
	m1 := NewDefaultNodeMetrics()
	m2 := NewDefaultNodeMetrics()

	before := testutil.ToFloat64(m1.requests.WithLabelValues("state_getStorage", "success"))
	m2.Request("state_getStorage")(nil)
	require.Equal(t, before+1, testutil.ToFloat64(m1.requests.WithLabelValues("state_getStorage", "success")))

	before = testutil.ToFloat64(m1.requests.WithLabelValues("state_getStorage", "failure"))
	m1.Request("state_getStorage")(errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(m2.requests.WithLabelValues("state_getStorage", "failure")))
}

func TestLocalCacheReads(t *testing.T) {
	m := NewDefaultNodeMetrics()
	before := testutil.ToFloat64(m.LocalCacheReads(CacheReadStatusHit))
	m.LocalCacheReads(CacheReadStatusHit).Inc()
	require.Equal(t, before+1, testutil.ToFloat64(m.LocalCacheReads(CacheReadStatusHit)))
}

func TestRunMetrics(t *testing.T) {
	m := NewDefaultRunMetrics()
	m.Accounts("remediated", 7)
	require.Equal(t, float64(7), testutil.ToFloat64(m.accounts.WithLabelValues("remediated")))

	m.Completed("audit")
	require.Positive(t, testutil.ToFloat64(m.completed.WithLabelValues("audit")))
}
