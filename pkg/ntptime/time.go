// Package ntptime implements the fixed-point time representation shared by
// every other package in this module: a 64-bit count of NTP seconds since
// 1900-01-01, high 32 bits seconds and low 32 bits fraction, the same layout
// the wire format carries. Arithmetic stays in this representation end to
// end so offset and frequency corrections never lose precision to floating
// point until discipline explicitly converts to seconds at its boundary.
package ntptime

import (
	"math"
	"time"
)

// Time is an NTP 64-bit fixed-point timestamp: seconds since 1900-01-01 in
// the high 32 bits, fractional seconds (resolution ~233ps) in the low 32.
type Time uint64

// Duration is a signed delta between two Time values, in the same unit.
type Duration int64

// fracScale is 2^32, the number of Duration units per second.
const fracScale = 1 << 32

// ntpUnixEpochDelta is 1970-01-01 minus 1900-01-01, in seconds.
const ntpUnixEpochDelta = 2208988800

// Add returns t shifted by d. Add and Sub are inverses of each other for any
// pair whose difference fits in a Duration.
func Add(t Time, d Duration) Time {
	return Time(uint64(t) + uint64(d))
}

// Sub returns the signed difference b-a.
func Sub(b, a Time) Duration {
	return Duration(uint64(b) - uint64(a))
}

// Mid returns the midpoint between a and b: a + (b-a)/2, using the same
// truncating division Duration arithmetic uses elsewhere.
func Mid(a, b Time) Time {
	return Add(a, Sub(b, a)/2)
}

// Seconds converts a Duration to floating-point seconds. This is the
// boundary where the core switches from fixed-point to floating-point
// arithmetic, as mandated for Discipline's inputs.
func (d Duration) Seconds() float64 {
	return float64(d) / fracScale
}

// FromSeconds builds a Duration from a (possibly fractional, possibly
// negative) number of seconds.
func FromSeconds(seconds float64) Duration {
	return Duration(math.Round(seconds * fracScale))
}

// FromGoTime converts a wall-clock time.Time to its NTP fixed-point Time.
// The conversion stays in integer nanoseconds until the final shift into
// the fractional field, rather than going through a float64 intermediate,
// since sinceEpoch.Seconds()*fracScale already exceeds float64's 53 bits of
// exact integer precision for any modern wall clock.
func FromGoTime(t time.Time) Time {
	sinceEpoch := t.Sub(time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC))
	seconds := int64(sinceEpoch / time.Second)
	nanos := int64(sinceEpoch % time.Second)
	frac := uint32((nanos << 32) / int64(time.Second))
	return Time(uint64(seconds)<<32 | uint64(frac))
}

// ToGoTime converts an NTP fixed-point Time to a wall-clock time.Time.
func (t Time) ToGoTime() time.Time {
	seconds := int64(uint64(t) >> 32)
	frac := uint32(t)
	nanos := (int64(frac) * int64(time.Second)) >> 32
	return time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(seconds)*time.Second + time.Duration(nanos))
}

// Unix returns t as POSIX seconds (float64, sub-second resolution kept).
func (t Time) Unix() float64 {
	return float64(uint64(t))/fracScale - ntpUnixEpochDelta
}
