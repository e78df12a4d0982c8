package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAgainstGivenRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.MatchedEndpoints.WithLabelValues("Square").Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(s.MatchedEndpoints.WithLabelValues("Square")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Greater(t, count, 0)
}

func TestNewWithNilRegistererWorksUnregistered(t *testing.T) {
	s := New(nil)
	s.DiscoveredParticipants.Set(2)
	require.Equal(t, float64(2), testutil.ToFloat64(s.DiscoveredParticipants))
}
