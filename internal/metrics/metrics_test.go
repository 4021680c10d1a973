package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegistered(t *testing.T) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"fastpath_cache_hits_total",
		"fastpath_cache_misses_total",
		"fastpath_cache_bytes",
		"fastpath_reactor_registered_fds",
		"fastpath_requests_total",
		"fastpath_request_duration_seconds",
	} {
		assert.True(t, names[want], "expected %s to be registered", want)
	}
}

func TestCountersIncrement(t *testing.T) {
	CacheHits.Inc()
	RequestsTotal.WithLabelValues("200").Inc()
}
