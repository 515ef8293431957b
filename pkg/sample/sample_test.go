package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/ntptime"
)

// TestMidpointScenario is scenario S1 from the spec: t1=100, t4=200,
// t2=150s NTP, t3=160s NTP, with an identity Clock{time0=0,index0=0,freq=1}.
func TestMidpointScenario(t *testing.T) {
	c := clock.FromParts(0, 0, 1, 1)

	s := Sample{
		T1: 100,
		T2: ntptime.Time(150) << 32,
		T3: ntptime.Time(160) << 32,
		T4: 200,
	}

	require.Equal(t, clock.Diff(100), s.RoundTrip())

	remote := s.RemoteTime()
	assert.Equal(t, ntptime.Time(155)<<32, remote)

	local := s.LocalTime(c)
	assert.Equal(t, ntptime.Time(150)<<32, local)

	offset := s.Offset(c)
	assert.Equal(t, ntptime.FromSeconds(5), offset)
}

func TestServerDelayIsReceiveToTransmitGap(t *testing.T) {
	s := Sample{
		T2: ntptime.Time(150) << 32,
		T3: ntptime.Time(160) << 32,
	}
	assert.Equal(t, ntptime.FromSeconds(10), s.ServerDelay())
}

func TestRoundtripAlwaysNonNegativeForIncreasingT4(t *testing.T) {
	s := Sample{T1: 10, T4: 20}
	assert.GreaterOrEqual(t, int64(s.RoundTrip()), int64(0))
}

func TestWindowStatsSingleSample(t *testing.T) {
	min, baseErr := WindowStats([]clock.Diff{42})
	assert.Equal(t, clock.Diff(42), min)
	assert.Equal(t, clock.Diff(0), baseErr)
}

func TestWindowStatsIdenticalRoundtrips(t *testing.T) {
	rts := []clock.Diff{100, 100, 100, 100}
	min, baseErr := WindowStats(rts)
	assert.Equal(t, clock.Diff(100), min)
	assert.Equal(t, clock.Diff(0), baseErr)
}

// TestWindowStatsResistsUpperOutlier is scenario S3's statistics half: a
// single large roundtrip in the upper half must not move minRoundtrip.
func TestWindowStatsResistsUpperOutlier(t *testing.T) {
	rts := make([]clock.Diff, 0, 21)
	for i := 0; i < 20; i++ {
		rts = append(rts, clock.Diff(1_000_000)) // 1ms in nanosecond counter ticks
	}
	rts = append(rts, clock.Diff(100_000_000)) // 100ms outlier

	min, _ := WindowStats(rts)
	assert.Equal(t, clock.Diff(1_000_000), min)
}

func TestRingNewestFirstOrderingAndEviction(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 4; i++ {
		r.Add(Sample{T1: clock.Index(i)})
	}
	require.Equal(t, 3, r.Len())

	samples := r.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, clock.Index(4), samples[0].T1)
	assert.Equal(t, clock.Index(3), samples[1].T1)
	assert.Equal(t, clock.Index(2), samples[2].T1)
}
