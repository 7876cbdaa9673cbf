package sdr

// Frontend is the narrow control surface of one RF module. Backends
// implement it on top of their register access; the configuration manager
// and clock tree drive it and own ordering, rollback and caching.
//
// Implementations report values outside the hardware capability by wrapping
// ErrOutOfRange and must leave the previous value in effect on failure.
type Frontend interface {
	// ResetChannel restores one channel to the hardware defaults.
	ResetChannel(ch uint8) error

	SetLOFrequency(dir Direction, ch uint8, freq float64) error
	SetNCOOffset(dir Direction, ch uint8, offset float64) error
	SetSampleRate(dir Direction, ch uint8, rate float64, oversample uint8) error
	SetGain(dir Direction, ch uint8, gain float64) error
	SetPath(dir Direction, ch uint8, path uint8) error
	SetLPF(dir Direction, ch uint8, bandwidth float64) error
	SetGFIR(dir Direction, ch uint8, enabled bool, taps []float64) error
	SetTestSignal(dir Direction, ch uint8, enabled bool) error
	EnableChannel(dir Direction, ch uint8, enabled bool) error

	// Calibrate runs the calibration procedure for the channel at its
	// currently configured bandwidth.
	Calibrate(dir Direction, ch uint8) error

	// SetClock tunes a physical clock domain (reference, LOs, CGEN).
	// Derived domains are managed by the clock tree, not the frontend.
	SetClock(clk ClockID, ch uint8, freq float64) error
	// ClockRange returns the tunable range of a clock domain.
	ClockRange(clk ClockID) (min, max float64)

	// ChannelState reads the applied configuration back from hardware.
	ChannelState(ch uint8) (ChannelConfig, error)

	// SampleRate reports the active rate for port sizing.
	SampleRate(dir Direction, ch uint8) float64
}
