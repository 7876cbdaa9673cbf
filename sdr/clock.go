package sdr

import (
	"fmt"
	"sync"
)

// clockTree tracks the clock domains of one module and re-derives dependent
// clocks when a source moves. Updates are atomic under mu: a reader sees
// either the previous complete tree or the new one.
type clockTree struct {
	mu sync.Mutex
	fe Frontend

	reference float64
	cgen      float64
	sxr       [MaxChannelCount]float64
	sxt       [MaxChannelCount]float64

	// Oversampling dividers feeding the DSP clock derivation, set during
	// configuration.
	rxDiv [MaxChannelCount]uint8
	txDiv [MaxChannelCount]uint8
}

// tspDividerBase is the fixed CGEN-to-TSP division before oversampling.
const tspDividerBase = 4

func newClockTree(fe Frontend) *clockTree {
	t := &clockTree{fe: fe}
	for ch := range t.rxDiv {
		t.rxDiv[ch] = 1
		t.txDiv[ch] = 1
	}
	min, _ := fe.ClockRange(ClkReference)
	t.reference = min
	return t
}

func (t *clockTree) Freq(clk ClockID, ch uint8) (float64, error) {
	if ch >= MaxChannelCount {
		return 0, fmt.Errorf("clock %s channel %d: %w", clk, ch, ErrInvalidConfig)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch clk {
	case ClkReference:
		return t.reference, nil
	case ClkSXR:
		return t.sxr[ch], nil
	case ClkSXT:
		return t.sxt[ch], nil
	case ClkCGEN:
		return t.cgen, nil
	case ClkRxTSP:
		return t.cgen / float64(tspDividerBase*int(t.rxDiv[ch])), nil
	case ClkTxTSP:
		return t.cgen / float64(tspDividerBase*int(t.txDiv[ch])), nil
	default:
		return 0, fmt.Errorf("clock id %d: %w", clk, ErrInvalidConfig)
	}
}

// SetFreq tunes a clock domain. Writing a derived (read-only) domain fails;
// an out-of-range request leaves the previous frequency in effect. A CGEN
// retune implicitly moves both TSP clocks, which happens under the same
// lock so no reader observes a half-updated tree.
func (t *clockTree) SetFreq(clk ClockID, freq float64, ch uint8) error {
	if ch >= MaxChannelCount {
		return fmt.Errorf("clock %s channel %d: %w", clk, ch, ErrInvalidConfig)
	}
	if clk.readOnly() {
		return fmt.Errorf("clock %s is read-only: %w", clk, ErrInvalidOperation)
	}
	min, max := t.fe.ClockRange(clk)
	if freq < min || freq > max {
		return fmt.Errorf("clock %s frequency %g outside [%g, %g]: %w", clk, freq, min, max, ErrOutOfRange)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fe.SetClock(clk, ch, freq); err != nil {
		return fmt.Errorf("clock %s: %w", clk, err)
	}
	switch clk {
	case ClkReference:
		t.reference = freq
	case ClkSXR:
		t.sxr[ch] = freq
	case ClkSXT:
		t.sxt[ch] = freq
	case ClkCGEN:
		t.cgen = freq
	}
	return nil
}

// setDividers records the oversampling dividers applied by a configuration
// pass; the TSP clocks follow immediately.
func (t *clockTree) setDividers(ch uint8, rxOversample, txOversample uint8) {
	if rxOversample == 0 {
		rxOversample = 1
	}
	if txOversample == 0 {
		txOversample = 1
	}
	t.mu.Lock()
	t.rxDiv[ch] = rxOversample
	t.txDiv[ch] = txOversample
	t.mu.Unlock()
}

// trackCGEN records a CGEN move made as part of a configuration pass.
func (t *clockTree) trackCGEN(freq float64) {
	t.mu.Lock()
	t.cgen = freq
	t.mu.Unlock()
}

// trackLO records an LO move made as part of a configuration pass.
func (t *clockTree) trackLO(dir Direction, ch uint8, freq float64) {
	t.mu.Lock()
	if dir == DirRx {
		t.sxr[ch] = freq
	} else {
		t.sxt[ch] = freq
	}
	t.mu.Unlock()
}
