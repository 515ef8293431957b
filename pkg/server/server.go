// Package server implements the per-target Server State: a resolved
// address, its own Counter Clock model, its ring of recent samples, and the
// cached roundtrip/error estimates Discipline is scored against.
package server

import (
	"net"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/discipline"
	"github.com/clockwatch/ntpmon/pkg/sample"
)

// MaxSamples bounds the ring at the longer of the phase and frequency
// windows (50s and 1000s) times spsec, with spsec (samples per second) taken
// as 0.5: max(50*0.5, 1000*0.5) = 500, the same as discipline.FreqSamples.
const MaxSamples = 500

// State is one monitored NTP server: ownership is exclusive to the pacer
// goroutine, which is the only thing that ever mutates it.
type State struct {
	Addr     *net.UDPAddr
	Hostname string

	Clock clock.Clock
	ring  *sample.Ring

	MinRoundtrip clock.Diff
	BaseError    clock.Diff

	Stratum               uint8
	RefID                 string
	RootDelaySeconds      float64
	RootDispersionSeconds float64

	// LastOffsetSeconds and SampledThisTick let the output adapter report
	// "Unknown" for a server that produced no sample in the current
	// pacing tick, rather than stale data from an earlier one.
	LastOffsetSeconds      float64
	LastServerDelaySeconds float64
	SampledThisTick        bool
}

// New creates server state for a resolved address, with a freshly
// calibrated Clock.
func New(addr *net.UDPAddr, hostname string, c clock.Clock) *State {
	return &State{
		Addr:     addr,
		Hostname: hostname,
		Clock:    c,
		ring:     sample.NewRing(MaxSamples),
	}
}

// SetReference records the stratum, human-readable reference id, and root
// delay/dispersion carried by the most recent reply, for reporting only.
func (s *State) SetReference(stratum uint8, refID string, rootDelaySeconds, rootDispersionSeconds float64) {
	s.Stratum = stratum
	s.RefID = refID
	s.RootDelaySeconds = rootDelaySeconds
	s.RootDispersionSeconds = rootDispersionSeconds
}

// Update appends a new sample to the ring, recomputes the window's
// minRoundtrip/baseError, and runs Discipline to produce the server's next
// Clock. With one or fewer samples in the ring, Discipline is a no-op by
// construction (its inputs would be degenerate), matching the ring update's
// own edge case.
func (s *State) Update(smp sample.Sample) {
	s.ring.Add(smp)

	roundtrips := make([]clock.Diff, 0, s.ring.Len())
	s.ring.Each(func(x sample.Sample) { roundtrips = append(roundtrips, x.RoundTrip()) })

	s.MinRoundtrip, s.BaseError = sample.WindowStats(roundtrips)
	s.LastServerDelaySeconds = smp.ServerDelay().Seconds()

	if s.ring.Len() < 2 {
		s.LastOffsetSeconds = smp.Offset(s.Clock).Seconds()
		s.SampledThisTick = true
		return
	}

	s.Clock = discipline.Run(s.Clock, s.ring.Samples(), s.MinRoundtrip, s.BaseError)
	s.LastOffsetSeconds = smp.Offset(s.Clock).Seconds()
	s.SampledThisTick = true
}

// ResetTick clears the per-tick sampled flag; called once at the start of
// every pacing tick before the queue is drained.
func (s *State) ResetTick() {
	s.SampledThisTick = false
}
