// Package discipline implements the online, outlier-resistant regression
// that turns a server's sample ring into an updated Clock. It is a pure
// function of (Clock, samples, minRoundtrip, baseError): it never touches a
// socket or a server's mutable state, which is what keeps it unit-testable
// without a network.
package discipline

import (
	"math"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/ntptime"
	"github.com/clockwatch/ntpmon/pkg/sample"
)

const (
	// PhaseSamples is the newest-N window the phase correction averages
	// over: short, so it tracks low-latency jitter.
	PhaseSamples = 25
	// FreqSamples is the newest-N window the frequency regression uses:
	// long, so thermal drift dominates quantization noise.
	FreqSamples = 500
	// DriftPerSecond is the assumed upper bound on uncompensated frequency
	// error, applied to age a sample's roundtrip-derived error estimate.
	DriftPerSecond = 1e-7
)

type weighted struct {
	timeSeconds   float64
	offsetSeconds float64
	weight        float64
}

// Run produces an updated Clock from the current Clock and a newest-first
// sample ring. With fewer than two samples it is a no-op: there isn't
// enough data yet to estimate a slope or a meaningful mean.
func Run(c clock.Clock, samples []sample.Sample, minRoundtrip, baseError clock.Diff) clock.Clock {
	if len(samples) < 2 {
		return c
	}

	oldest := samples[len(samples)-1]
	newest := samples[0]

	// Step 1: re-anchor the model's pivot to the oldest sample still in the
	// window, bounding the numerical error that grows with index-index0.
	c = c.AdjustOrigin(oldest.T1)

	baseErrorSeconds := c.DiffSeconds(baseError)

	weights := make([]weighted, len(samples))
	for i, s := range samples {
		offsetSeconds := s.Offset(c).Seconds()
		timeSeconds := c.DiffSeconds(clock.Diff(s.T4 - oldest.T1))

		initialError := c.DiffSeconds(s.RoundTrip() - minRoundtrip)
		age := c.DiffSeconds(clock.Diff(newest.T4 - s.T4))
		currentError := initialError + DriftPerSecond*age

		var quality float64
		if baseError == 0 {
			quality = 1
		} else {
			x := currentError / baseErrorSeconds
			quality = math.Exp(-x * x)
		}

		weights[i] = weighted{timeSeconds: timeSeconds, offsetSeconds: offsetSeconds, weight: quality}
	}

	phase := weightedMeanOffset(window(weights, PhaseSamples))
	freq := weightedSlope(window(weights, FreqSamples))

	// Step 5: frequency before phase, so the phase correction is measured
	// against the already-tightened rate. Each is skipped independently if
	// NaN, not as a pair.
	if !math.IsNaN(freq) {
		c = c.AdjustFrequency(freq)
	}
	if !math.IsNaN(phase) {
		c = c.AdjustOffset(ntptime.FromSeconds(phase))
	}

	return c
}

func window(weights []weighted, n int) []weighted {
	if n > len(weights) {
		n = len(weights)
	}
	return weights[:n]
}

func weightedMeanOffset(weights []weighted) float64 {
	var sumWeight, sumWeightedOffset float64
	for _, w := range weights {
		sumWeight += w.weight
		sumWeightedOffset += w.weight * w.offsetSeconds
	}
	if sumWeight == 0 || math.IsNaN(sumWeight) || math.IsInf(sumWeight, 0) {
		return math.NaN()
	}
	return sumWeightedOffset / sumWeight
}

// weightedSlope performs a weighted linear regression of offset on time and
// returns beta, the seconds of offset drift per second of elapsed host time.
func weightedSlope(weights []weighted) float64 {
	n := len(weights)
	if n < 2 {
		return math.NaN()
	}

	var sumTime float64
	for _, w := range weights {
		sumTime += w.timeSeconds
	}
	meanTime := sumTime / float64(n)

	meanOffset := weightedMeanOffset(weights)
	if math.IsNaN(meanOffset) {
		return math.NaN()
	}

	var timeSS float64
	for _, w := range weights {
		d := w.timeSeconds - meanTime
		timeSS += d * d
	}
	sdTime := math.Sqrt(timeSS / float64(n-1))

	var sumWeight, weightedOffsetSS float64
	for _, w := range weights {
		sumWeight += w.weight
		d := w.offsetSeconds - meanOffset
		weightedOffsetSS += w.weight * d * d
	}
	if sumWeight == 0 {
		return math.NaN()
	}
	sdOffset := math.Sqrt(weightedOffsetSS / sumWeight)

	if sdTime == 0 || sdOffset == 0 || math.IsNaN(sdTime) || math.IsNaN(sdOffset) {
		return math.NaN()
	}

	var covariance float64
	for _, w := range weights {
		covariance += (w.timeSeconds - meanTime) * (w.offsetSeconds - meanOffset)
	}
	covariance /= float64(n - 1)

	correlation := covariance / (sdTime * sdOffset)
	beta := correlation * sdOffset / sdTime
	return beta
}
