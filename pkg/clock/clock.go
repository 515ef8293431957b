// Package clock implements the Counter Clock: a thin model of the host's
// free-running hardware counter plus the affine map from counter readings
// to wall time. The map is split into three orthogonal adjustments (origin,
// offset, frequency) so Discipline can compose corrections without each one
// disturbing the invariants the others rely on.
package clock

import (
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/clockwatch/ntpmon/pkg/ntptime"
)

// Index is a signed reading of the host counter. Signed, not unsigned: an
// unsigned index breaks when a re-anchored origin moves earlier than a
// reading taken before the re-anchor.
type Index int64

// Diff is the signed difference between two Index readings.
type Diff int64

// Source reads the host's monotonic counter. Production code uses
// SystemSource; tests inject a fake to drive Discipline deterministically.
type Source interface {
	Now() Index
}

// SystemSource reads CLOCK_MONOTONIC via clock_gettime, the same syscall
// this codebase's PHC tooling uses for hardware timestamp sources.
type SystemSource struct{}

// Now returns the current monotonic counter reading in nanoseconds.
func (SystemSource) Now() Index {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Index(time.Now().UnixNano())
	}
	return Index(ts.Nano())
}

const calibrationBurst = 256

// Clock is the affine counter-to-time model: clockTime(idx) = time0 +
// (idx-index0)/frequency. frequency and precision are discovered at
// calibration time rather than assumed, since the counter's tick rate is a
// platform detail this monitor does not hardcode.
type Clock struct {
	time0     ntptime.Time
	index0    Index
	frequency float64
	precision uint64
}

// New calibrates a Clock against src: it estimates the counter's tick rate
// and granularity with a short burst of back-to-back reads, then captures
// the origin with one final pair of reads taken immediately adjacent to
// each other so time0 and index0 refer to the same instant.
func New(src Source) Clock {
	wallStart := time.Now()
	idxStart := src.Now()

	prev := idxStart
	var minDiff int64 = math.MaxInt64
	for i := 0; i < calibrationBurst; i++ {
		idx := src.Now()
		if d := int64(idx - prev); d > 0 && d < minDiff {
			minDiff = d
		}
		prev = idx
	}
	idxEnd := prev
	wallEnd := time.Now()

	elapsed := wallEnd.Sub(wallStart).Seconds()
	if elapsed <= 0 {
		elapsed = float64(time.Nanosecond) / float64(time.Second)
	}
	frequency := float64(idxEnd-idxStart) / elapsed
	if minDiff == math.MaxInt64 {
		minDiff = 1
	}

	origin := time.Now()
	index0 := src.Now()

	return Clock{
		time0:     ntptime.FromGoTime(origin),
		index0:    index0,
		frequency: frequency,
		precision: uint64(minDiff),
	}
}

// FromParts builds a Clock directly from its affine model parameters,
// bypassing calibration. Used to construct known-value clocks in tests and
// wherever a caller has already measured frequency/precision itself.
func FromParts(time0 ntptime.Time, index0 Index, frequency float64, precision uint64) Clock {
	return Clock{time0: time0, index0: index0, frequency: frequency, precision: precision}
}

// TimeAt maps a counter reading to wall time through the affine model.
func (c Clock) TimeAt(idx Index) ntptime.Time {
	seconds := float64(idx-c.index0) / c.frequency
	return ntptime.Add(c.time0, ntptime.FromSeconds(seconds))
}

// IndexAt is the inverse of TimeAt, rounded to the nearest counter tick.
func (c Clock) IndexAt(t ntptime.Time) Index {
	seconds := ntptime.Sub(t, c.time0).Seconds()
	return c.index0 + Index(math.Round(seconds*c.frequency))
}

// DiffSeconds converts a Diff to floating-point seconds using the current
// frequency estimate.
func (c Clock) DiffSeconds(d Diff) float64 {
	return float64(d) / c.frequency
}

// Frequency returns the current ticks-per-second estimate.
func (c Clock) Frequency() float64 {
	return c.frequency
}

// Precision returns the smallest observed non-zero tick-to-tick gap from
// calibration, reported for diagnostics only.
func (c Clock) Precision() uint64 {
	return c.precision
}

// Index0 returns the counter reading the model currently pivots on.
func (c Clock) Index0() Index {
	return c.index0
}

// AdjustOrigin moves the model's numeric pivot to idx while preserving
// clockTime exactly at idx: time0 is recomputed so TimeAt(idx) is unchanged.
func (c Clock) AdjustOrigin(idx Index) Clock {
	c.time0 = c.TimeAt(idx)
	c.index0 = idx
	return c
}

// AdjustOffset shifts time0 by d without touching index0 or frequency.
func (c Clock) AdjustOffset(d ntptime.Duration) Clock {
	c.time0 = ntptime.Add(c.time0, d)
	return c
}

// AdjustFrequency scales frequency by (1-adj) without touching time0 or
// index0. This sign convention (subtract, not add) is deliberate: it
// matches the convention the corrections this model composes were derived
// under, and must be the only path frequency is mutated through when
// composing corrections rather than setting it outright.
func (c Clock) AdjustFrequency(adj float64) Clock {
	c.frequency = c.frequency * (1 - adj)
	return c
}
