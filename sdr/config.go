package sdr

// GFIRFilter configures one Gaussian-FIR digital filter stage.
type GFIRFilter struct {
	Bandwidth float64 // passband in Hz; 0 keeps the current coefficients
	Enabled   bool
}

// ChannelConfig is the desired state of one RX/TX channel pair. The zero
// value means "channel disabled, hardware defaults"; fields left at zero are
// not applied unless the channel is enabled in that direction.
type ChannelConfig struct {
	RxCenterFrequency float64
	TxCenterFrequency float64

	// NCO offsets are digital shifts applied after the analog converters.
	RxNCOOffset float64
	TxNCOOffset float64

	RxSampleRate float64
	TxSampleRate float64

	RxGain float64
	TxGain float64

	// Path selectors index into RFSOCDescription.RxPathNames/TxPathNames.
	RxPath uint8
	TxPath uint8

	// Low-pass filter bandwidths in Hz. 0 leaves the filter untouched.
	RxLPF float64
	TxLPF float64

	RxOversample uint8
	TxOversample uint8

	RxGFIR GFIRFilter
	TxGFIR GFIRFilter

	RxEnabled bool
	TxEnabled bool

	// Calibrate triggers a calibration run after the rest of the channel
	// state is in place.
	RxCalibrate bool
	TxCalibrate bool

	RxTestSignal bool
	TxTestSignal bool
}

// enabled reports whether the channel takes part in either direction.
func (c *ChannelConfig) enabled() bool { return c.RxEnabled || c.TxEnabled }

// SDRConfig is one atomic configuration pass over a module. It is consumed
// by Configure and not retained.
type SDRConfig struct {
	// ReferenceClockFreq retunes the reference oscillator when non-zero.
	ReferenceClockFreq float64

	Channels [MaxChannelCount]ChannelConfig

	// SkipDefaults applies the populated fields on top of the current
	// hardware state instead of resetting channels to defaults first.
	SkipDefaults bool
}
