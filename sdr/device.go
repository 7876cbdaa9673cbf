// Package sdr is a hardware abstraction layer for software-defined-radio
// front ends: RF chips with multiple RX/TX channels, digital basebands and an
// FPGA-mediated sample link to the host. It owns the streaming data path and
// its configuration/synchronization machinery; register-level chip
// programming and the physical transport are collaborators supplied by the
// device backends.
package sdr

import "context"

const (
	// MaxChannelCount bounds the number of channels per RF module.
	MaxChannelCount = 16
	// MaxRFSOCCount bounds the number of RF modules per device.
	MaxRFSOCCount = 16
)

// ClockID names a clock domain in the device clock tree.
type ClockID uint8

const (
	ClkReference ClockID = iota // reference oscillator
	ClkSXR                      // RX local oscillator
	ClkSXT                      // TX local oscillator
	ClkCGEN                     // sample rate generator
	ClkRxTSP                    // RX DSP clock, read-only, derived from CGEN
	ClkTxTSP                    // TX DSP clock, read-only, derived from CGEN
)

func (c ClockID) String() string {
	switch c {
	case ClkReference:
		return "reference"
	case ClkSXR:
		return "rx_lo"
	case ClkSXT:
		return "tx_lo"
	case ClkCGEN:
		return "cgen"
	case ClkRxTSP:
		return "rx_tsp"
	case ClkTxTSP:
		return "tx_tsp"
	default:
		return "unknown"
	}
}

// readOnly reports whether the clock domain can only be observed, not set.
func (c ClockID) readOnly() bool {
	return c == ClkRxTSP || c == ClkTxTSP
}

// Direction selects the receive or transmit side of a channel.
type Direction uint8

const (
	DirRx Direction = iota
	DirTx
)

func (d Direction) String() string {
	if d == DirTx {
		return "tx"
	}
	return "rx"
}

// LogLevel tags messages emitted through the message log callback.
type LogLevel uint8

const (
	LevelCritical LogLevel = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelVerbose
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelVerbose:
		return "VERBOSE"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// LogCallback receives level-tagged text messages. It must not block; slow
// consumers should buffer or drop on their side.
type LogCallback func(level LogLevel, msg string)

// DataCallback observes raw bytes moved over the sample link. Fire and
// forget; it is never invoked while a data-path lock is held.
type DataCallback func(tx bool, payload []byte)

// Device is one SDR front end. Implementations share the session state
// machine, buffer accounting and format conversion of this package and add
// the hardware specifics (register programming, transport).
//
// Module indices refer to Descriptor().RFSOC entries. All methods are safe
// for concurrent use; configuration calls serialize against active streams
// on the same module.
type Device interface {
	// Descriptor returns the immutable capability record cached at
	// discovery. It never blocks on hardware I/O.
	Descriptor() *Descriptor

	Init(ctx context.Context) error
	Reset() error
	Close() error

	// Configure applies an SDRConfig to one module as a single
	// transaction; on failure the previous configuration is restored.
	Configure(cfg SDRConfig, module uint8) error

	ClockFreq(clk ClockID, channel uint8) (float64, error)
	SetClockFreq(clk ClockID, freq float64, channel uint8) error

	// Synchronize pushes the cached configuration to hardware
	// (toChip=true) or refreshes the cache from hardware (toChip=false).
	Synchronize(toChip bool) error
	// EnableCache controls whether configuration reads are served from
	// the cache or round-trip to hardware.
	EnableCache(enable bool)

	StreamSetup(cfg StreamConfig, module uint8) error
	StreamStart(module uint8) error
	StreamStop(module uint8) error

	// StreamRx fills count samples per configured RX channel into dst
	// (one Samples per channel, in StreamSetup order) and returns the
	// number delivered per channel. Short counts are not errors.
	StreamRx(module uint8, dst []Samples, count int, meta *StreamMeta) (int, error)
	// StreamTx submits count samples per configured TX channel from src.
	StreamTx(module uint8, src []Samples, count int, meta *StreamMeta) (int, error)
	// StreamStatus returns the latest transport health snapshot for one
	// direction of the module's stream without blocking.
	StreamStatus(module uint8, dir Direction) (StreamStats, error)

	// GPIO access. Bits are packed LSB first. Devices without GPIO
	// support return an error, they do not panic.
	GPIOWrite(buf []byte) error
	GPIORead(buf []byte) error
	GPIODirWrite(buf []byte) error
	GPIODirRead(buf []byte) error

	// Custom on-board parameter access with implementation-defined units.
	CustomParameterWrite(ids []uint8, values []float64, units string) error
	CustomParameterRead(ids []uint8, values []float64) (units string, err error)

	SetMessageLogCallback(cb LogCallback)
	SetDataLogCallback(cb DataCallback)
}
