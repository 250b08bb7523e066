package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestToRemoteToLocalRoundTrip(t *testing.T) {
	s := New()
	s.Sample(1000, 1050, 2000) // one fixed sample stabilizes the offset

	rapid.Check(t, func(tt *rapid.T) {
		v := rapid.Int64Range(-1<<40, 1<<40).Draw(tt, "t")
		require.Equal(tt, v, s.ToRemote(s.ToLocal(v)))
		require.Equal(tt, v, s.ToLocal(s.ToRemote(v)))
	})
}

func TestSampleMinRTTReplacesWholesale(t *testing.T) {
	s := New()
	s.Sample(0, 100, 300) // rtt=300, offset=(100+ (100-300))/2 = -50
	first := s.Offset()
	require.Equal(t, int64(-50), first)

	// Lower RTT sample with a different offset replaces wholesale, not EMA.
	s.Sample(0, 10, 20) // rtt=20, offset=(10 + (10-20))/2 = 0
	require.Equal(t, int64(0), s.Offset())
	require.Equal(t, int64(20), s.MinRTT())
}

func TestSampleEMASmoothsWhenRTTNotImproved(t *testing.T) {
	s := New()
	s.Sample(0, 10, 20) // rtt=20, offset=0
	s.Sample(0, 100, 120) // rtt=120 (worse), offset=(100+(100-120))/2=40 -> EMA toward 40
	require.Greater(t, s.Offset(), int64(0))
	require.Less(t, s.Offset(), int64(40))
}
