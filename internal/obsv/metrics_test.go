package obsv

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// NewMetrics registers every metric against the default Prometheus
// registry, so a second call in the same test binary would panic on
// duplicate registration — everything here runs through one shared
// instance rather than one per test function.
func TestMetrics_ObserveHelpersIncrementCounters(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("default", 42*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("default")))

	m.ObserveDetector("user_agent", 5*time.Millisecond, false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DetectorTimeouts.WithLabelValues("user_agent")))

	m.ObserveDetector("behavioral", 600*time.Millisecond, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DetectorTimeouts.WithLabelValues("behavioral")))

	m.ObserveEarlyExit("verified_bad")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EarlyExitTotal.WithLabelValues("verified_bad")))

	m.ObserveAction("block")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues("block")))

	m.ObserveRiskBand("high")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RiskBandTotal.WithLabelValues("high")))

	m.ObserveReputationLookup("hit")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReputationLookups.WithLabelValues("hit")))

	m.ObserveReputationStoreError("scan")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReputationStoreErr.WithLabelValues("scan")))

	m.ObservePolicyReload(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PolicyReloadTotal.WithLabelValues("ok")))

	m.ObservePolicyReload(assertError{})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PolicyReloadTotal.WithLabelValues("error")))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
