package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	MessagesProcessed.WithLabelValues("applied").Inc()
	SearchDuration.WithLabelValues("engine").Observe(0.01)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["searchsync_messages_total"])
	assert.True(t, names["searchsync_search_duration_seconds"])
}

func TestCounterValue(t *testing.T) {
	before := testutil.ToFloat64(HotKeyPromotions)
	HotKeyPromotions.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(HotKeyPromotions))
}
