// Package dsp provides the small amount of signal analysis the tooling
// needs: a windowed power spectrum and peak search over captured samples.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Spectrum computes a centered power spectrum in dBFS from complex
// samples. Samples are expected normalized to full scale 1.0. A Hamming
// window is applied and compensated for, so a bin-centered full-scale tone
// reads close to 0 dBFS.
func Spectrum(samples []complex64) []float64 {
	n := len(samples)
	if n == 0 {
		return []float64{}
	}

	vals := window.NewValues(window.Hamming, n)
	gain := 0.0
	for _, v := range vals {
		gain += v
	}

	seq := make([]complex128, n)
	for i, v := range samples {
		seq[i] = complex(float64(real(v)), float64(imag(v)))
	}
	vals.TransformComplex(seq)

	coeffs := fourier.NewCmplxFFT(n).Coefficients(nil, seq)
	shifted := Shift(coeffs)

	db := make([]float64, n)
	for i, c := range shifted {
		mag := cmplx.Abs(c) / gain
		if mag == 0 {
			db[i] = math.Inf(-1)
			continue
		}
		db[i] = 20 * math.Log10(mag)
	}
	return db
}

// Shift reorders FFT output so that DC sits in the center bin.
func Shift(coeffs []complex128) []complex128 {
	n := len(coeffs)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	out := make([]complex128, 0, n)
	out = append(out, coeffs[half:]...)
	return append(out, coeffs[:half]...)
}

// Peak returns the strongest bin of a spectrum. ok is false for an empty
// spectrum.
func Peak(db []float64) (bin int, level float64, ok bool) {
	if len(db) == 0 {
		return 0, 0, false
	}
	level = math.Inf(-1)
	for i, v := range db {
		if v > level {
			level = v
			bin = i
		}
	}
	return bin, level, true
}

// BinFrequency converts a centered spectrum bin index to its frequency
// offset from the LO in Hz.
func BinFrequency(bin, n int, sampleRate float64) float64 {
	if n == 0 {
		return 0
	}
	return (float64(bin) - float64(n/2)) * sampleRate / float64(n)
}
