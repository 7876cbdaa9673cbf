package sdr

import "fmt"

// DataFormat is a sample encoding, used both for the caller-facing API and
// for the host<->FPGA link.
type DataFormat uint8

const (
	FormatI16 DataFormat = iota // 16-bit signed I/Q
	FormatI12                   // 12-bit signed I/Q, packed on the link
	FormatF32                   // 32-bit float I/Q, full scale +-1.0
)

func (f DataFormat) String() string {
	switch f {
	case FormatI16:
		return "i16"
	case FormatI12:
		return "i12"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// ComplexSize returns the encoded size of one I/Q sample in bytes.
func (f DataFormat) ComplexSize() int {
	switch f {
	case FormatI12:
		return 3
	case FormatF32:
		return 8
	default:
		return 4
	}
}

func (f DataFormat) valid() bool { return f <= FormatF32 }

// StreamExtras tunes the transport batching of a stream session.
type StreamExtras struct {
	// UsePoll makes StreamRx/StreamTx non-blocking: they return
	// immediately with whatever is available or accepted.
	UsePoll bool

	RxSamplesInPacket   uint16
	RxPacketsInBatch    uint32
	TxMaxPacketsInBatch uint32
	TxSamplesInPacket   uint16
}

// DefaultExtras returns the transport tuning defaults.
func DefaultExtras() StreamExtras {
	return StreamExtras{
		UsePoll:             true,
		RxSamplesInPacket:   defaultSamplesInPacket,
		RxPacketsInBatch:    defaultRxPacketsInBatch,
		TxMaxPacketsInBatch: defaultTxPacketsInBatch,
		TxSamplesInPacket:   defaultSamplesInPacket,
	}
}

// DefaultStreamConfig returns a single-channel 16-bit receive intent with
// transport defaults. Callers adjust fields from there.
func DefaultStreamConfig() StreamConfig {
	extras := DefaultExtras()
	return StreamConfig{
		RxChannels: []uint8{0},
		Format:     FormatI16,
		LinkFormat: FormatI16,
		Extras:     &extras,
	}
}

// StatusCallback is invoked by the stream health monitor on a fixed
// interval with the latest stats. Returning false requests a stream stop.
// It runs outside any data-path lock and must not block.
type StatusCallback func(stats *StreamStats, userData any) bool

// StreamConfig is the caller's intent for one stream session. The session
// controller copies what it needs for the call duration.
type StreamConfig struct {
	// RxChannels and TxChannels list module channel indices, at most
	// MaxChannelCount each. At least one list must be non-empty.
	RxChannels []uint8
	TxChannels []uint8

	// Format is the sample encoding of the StreamRx/StreamTx buffers;
	// LinkFormat the encoding on the host<->FPGA link. They may differ.
	Format     DataFormat
	LinkFormat DataFormat

	// BufferSize is the per-channel buffering in samples. 0 lets the
	// implementation decide.
	BufferSize uint32

	// HintSampleRate sizes internal buffering for the expected rate.
	// 0 lets the implementation decide.
	HintSampleRate float64

	// AlignPhase requests phase alignment of paired channels to a common
	// hardware clock edge before streaming begins.
	AlignPhase bool

	StatusCallback StatusCallback
	UserData       any

	// Extras overrides transport batching; nil picks DefaultExtras.
	Extras *StreamExtras
}

// StreamMeta carries per-transfer metadata. On StreamRx return, Timestamp
// holds the tick of the first delivered sample.
type StreamMeta struct {
	// Timestamp in sample clock ticks.
	Timestamp uint64
	// UseTimestamp honors Timestamp instead of free-running transfer.
	UseTimestamp bool
	// Flush submits partially filled transport packets immediately
	// instead of waiting for a full batch. TX only.
	Flush bool
}

// StreamStats is a point-in-time transport health snapshot for one
// direction of a stream. Counters never decrease within a session.
type StreamStats struct {
	Timestamp        uint64
	BytesTransferred int64
	Packets          int64
	// FIFOFilled is the internal queue fill fraction, 0.0 to 1.0.
	FIFOFilled  float32
	DataRateBps float32
	// TxDataRateBps mirrors the TX-side rate on RX snapshots so a single
	// snapshot shows both directions.
	TxDataRateBps float32

	Overrun  uint32
	Underrun uint32
	Loss     uint32
	Late     uint32

	IsTx bool
}

// Samples is a caller-owned sample buffer for one channel. The slice
// matching StreamConfig.Format is used: I16 holds interleaved I,Q pairs for
// FormatI16 and FormatI12 (12-bit values in the low bits), F32 holds complex
// samples for FormatF32.
type Samples struct {
	I16 []int16
	F32 []complex64
}

// capFor returns how many complex samples the buffer can hold in the given
// caller format.
func (s Samples) capFor(f DataFormat) int {
	if f == FormatF32 {
		return len(s.F32)
	}
	return len(s.I16) / 2
}

// validate checks the stream intent against a module description without
// touching hardware.
func (c *StreamConfig) validate(soc *RFSOCDescription) error {
	if len(c.RxChannels) == 0 && len(c.TxChannels) == 0 {
		return fmt.Errorf("no channels selected: %w", ErrInvalidConfig)
	}
	if err := soc.validateChannels(DirRx, c.RxChannels); err != nil {
		return err
	}
	if err := soc.validateChannels(DirTx, c.TxChannels); err != nil {
		return err
	}
	if !c.Format.valid() || !c.LinkFormat.valid() {
		return fmt.Errorf("unknown sample format: %w", ErrInvalidConfig)
	}
	return nil
}
