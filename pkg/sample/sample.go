// Package sample implements the four-point NTP round-trip record and the
// fixed-capacity ring that a Server keeps of its recent samples.
package sample

import (
	"container/ring"
	"math"
	"sort"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/ntptime"
)

// Sample is one NTP round trip: T1/T4 are host counter readings, T2/T3 are
// the server's receive/transmit timestamps as carried in the reply.
type Sample struct {
	T1 clock.Index
	T2 ntptime.Time
	T3 ntptime.Time
	T4 clock.Index
}

// RoundTrip is T4-T1, always non-negative for a sample the transport loop
// produced, since T4 is read after T1 by construction.
func (s Sample) RoundTrip() clock.Diff {
	return clock.Diff(s.T4 - s.T1)
}

// ServerDelay is the server's own processing delay, T3-T2.
func (s Sample) ServerDelay() ntptime.Duration {
	return ntptime.Sub(s.T3, s.T2)
}

// RemoteTime is the midpoint of the server's receive/transmit stamps.
func (s Sample) RemoteTime() ntptime.Time {
	return ntptime.Mid(s.T2, s.T3)
}

// midIndex is the counter reading halfway between send and arrival.
func (s Sample) midIndex() clock.Index {
	return s.T1 + clock.Index((s.T4-s.T1)/2)
}

// LocalTime is what the given clock believes the wall time was at the
// midpoint of this round trip.
func (s Sample) LocalTime(c clock.Clock) ntptime.Time {
	return c.TimeAt(s.midIndex())
}

// Offset is the signed difference between the remote and local readings at
// the round trip's midpoint.
func (s Sample) Offset(c clock.Clock) ntptime.Duration {
	return ntptime.Sub(s.RemoteTime(), s.LocalTime(c))
}

// Ring is a fixed-capacity, newest-first window of samples. It is backed by
// container/ring rather than a slice because Discipline's repeated full
// scans (lower-half roundtrip stats, newest-N phase/frequency windows) are
// naturally expressed as bounded ring walks.
type Ring struct {
	head *ring.Ring
	len  int
	cap  int
}

// NewRing allocates a ring with room for capacity samples.
func NewRing(capacity int) *Ring {
	return &Ring{head: ring.New(capacity), cap: capacity}
}

// Add prepends s, evicting the oldest sample once the ring is full.
func (r *Ring) Add(s Sample) {
	r.head = r.head.Prev()
	r.head.Value = s
	if r.len < r.cap {
		r.len++
	}
}

// Len is the number of samples currently held, capped at the ring's capacity.
func (r *Ring) Len() int {
	return r.len
}

// Each visits every held sample newest-first.
func (r *Ring) Each(fn func(Sample)) {
	node := r.head
	for i := 0; i < r.len; i++ {
		fn(node.Value.(Sample))
		node = node.Next()
	}
}

// Samples returns the held samples as a newest-first slice.
func (r *Ring) Samples() []Sample {
	out := make([]Sample, 0, r.len)
	r.Each(func(s Sample) { out = append(out, s) })
	return out
}

// WindowStats recomputes minRoundtrip and baseError from a set of roundtrip
// readings: minRoundtrip is the minimum of the lower (sorted) half, and
// baseError is 3 standard deviations of that same lower half, rounded.
// Restricting both estimators to the lower half makes them resistant to
// transient congestion spikes in the upper half of the distribution.
func WindowStats(roundtrips []clock.Diff) (minRoundtrip clock.Diff, baseError clock.Diff) {
	n := len(roundtrips)
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return roundtrips[0], 0
	}

	sorted := make([]clock.Diff, n)
	copy(sorted, roundtrips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	half := (n + 1) / 2
	lower := sorted[:half]

	minRoundtrip = lower[0]

	var sum float64
	for _, rt := range lower {
		sum += float64(rt)
	}
	mean := sum / float64(len(lower))

	var ss float64
	for _, rt := range lower {
		d := float64(rt) - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(len(lower)))

	baseError = clock.Diff(math.Round(3 * stddev))
	return minRoundtrip, baseError
}
