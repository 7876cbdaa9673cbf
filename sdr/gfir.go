package sdr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

// gfirTapCount is the coefficient bank size of the hardware GFIR stage.
const gfirTapCount = 40

// gfirTaps designs the Gaussian-FIR coefficients for the requested passband:
// a windowed-sinc low pass shaped by a Gaussian window, normalized to unity
// DC gain.
func gfirTaps(bandwidth, sampleRate float64) ([]float64, error) {
	if bandwidth <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("gfir bandwidth %g at rate %g: %w", bandwidth, sampleRate, ErrInvalidConfig)
	}
	cutoff := bandwidth / 2 / sampleRate
	if cutoff >= 0.5 {
		return nil, fmt.Errorf("gfir bandwidth %g exceeds Nyquist at rate %g: %w", bandwidth, sampleRate, ErrOutOfRange)
	}

	taps := make([]float64, gfirTapCount)
	mid := float64(gfirTapCount-1) / 2
	for n := range taps {
		taps[n] = sinc(2 * cutoff * (float64(n) - mid))
	}
	window.Gaussian{Sigma: 0.4}.Transform(taps)

	var sum float64
	for _, t := range taps {
		sum += t
	}
	for n := range taps {
		taps[n] /= sum
	}
	return taps, nil
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
