package media

// Rational represents a rational number (numerator/denominator).
// Used for stream time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// NewRational creates a new rational number
func NewRational(num, den int) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns the inverted rational (den/num)
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Seconds converts a tick count in this time base to seconds.
func (r Rational) Seconds(ticks int64) float64 {
	return float64(ticks) * r.Float64()
}

// Ticks converts seconds to the nearest tick count in this time base.
func (r Rational) Ticks(seconds float64) int64 {
	if r.Num == 0 {
		return 0
	}
	v := seconds * float64(r.Den) / float64(r.Num)
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}

// Common time bases
var (
	TimeBase90kHz = Rational{Num: 1, Den: 90000}
	TimeBase1kHz  = Rational{Num: 1, Den: 1000}
	TimeBase48kHz = Rational{Num: 1, Den: 48000}

	FrameRate25 = Rational{Num: 25, Den: 1}
	FrameRate30 = Rational{Num: 30, Den: 1}
)
