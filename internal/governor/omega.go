package governor

import "math"

// OmegaRatio scores a forecast distribution against a minimum
// acceptable return. The distribution is a triangle with support
// [p10, p90] and mode p50; the result is the ratio of expected gain to
// expected loss relative to the threshold.
//
// Degenerate or inverted distributions score 0. A distribution wholly
// above the threshold scores +Inf.
func OmegaRatio(p10, p50, p90, threshold float64) float64 {
	if p10 >= p90 || p50 < p10 || p50 > p90 {
		return 0
	}

	// Triangle height giving unit area.
	h := 2.0 / (p90 - p10)

	gain := expectedGain(p10, p50, p90, h, threshold)
	loss := expectedLoss(p10, p50, p90, h, threshold)

	if loss == 0 {
		if gain > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gain / loss
}

// expectedGain is the integral of (x-t)*f(x) over [t, b].
func expectedGain(a, c, b, h, t float64) float64 {
	if t >= b {
		return 0
	}
	var sum float64
	if t < c {
		start := math.Max(t, a)
		k := h / (c - a)
		sum += k * (cubicUp(c, a, t) - cubicUp(start, a, t))
	}
	start := math.Max(t, c)
	k := h / (b - c)
	sum += k * (cubicDown(b, b, t) - cubicDown(start, b, t))
	return sum
}

// expectedLoss is the integral of (t-x)*f(x) over [a, t].
func expectedLoss(a, c, b, h, t float64) float64 {
	if t <= a {
		return 0
	}
	var sum float64
	end := math.Min(t, c)
	k := h / (c - a)
	sum += k * (cubicUp(a, a, t) - cubicUp(end, a, t))
	if t > c {
		end := math.Min(t, b)
		k := h / (b - c)
		sum += k * (cubicDown(c, b, t) - cubicDown(end, b, t))
	}
	return sum
}

// Antiderivative of (x-t)(x-a).
func cubicUp(x, a, t float64) float64 {
	return x*x*x/3 - (a+t)*x*x/2 + a*t*x
}

// Antiderivative of (x-t)(b-x).
func cubicDown(x, b, t float64) float64 {
	return -x*x*x/3 + (b+t)*x*x/2 - b*t*x
}
