// Package netsdr implements sdr.Device over a TCP link to an FPGA-side
// stream endpoint. One connection carries the control plane as framed
// request/response commands; each stream session opens its own connection
// for timestamped sample packets.
package netsdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/openrfx/sdrhal/sdr"
)

// Wire format (network byte order):
//
//	uint8  op
//	uint8  module
//	uint16 flags
//	int32  status
//	uint32 length
//
// followed by length payload bytes. Responses echo the request op with
// status set; negative status maps onto the sdr error taxonomy.
const headerSize = 12

type header struct {
	Op     uint8
	Module uint8
	Flags  uint16
	Status int32
	Length uint32
}

// Control plane opcodes.
const (
	opDescriptor   = 0x01
	opInit         = 0x02
	opReset        = 0x03
	opSetField     = 0x10
	opResetChannel = 0x11
	opChannelState = 0x12
	opCalibrate    = 0x13
	opSetGFIR      = 0x14
	opSetClock     = 0x15
	opClockRange   = 0x16
	opGPIOWrite    = 0x20
	opGPIORead     = 0x21
	opGPIODirWrite = 0x22
	opGPIODirRead  = 0x23
	opCustomWrite  = 0x24
	opCustomRead   = 0x25
	opSPI          = 0x26
)

// Stream plane opcodes.
const (
	opStreamOpen   = 0x30
	opStreamData   = 0x31
	opStreamStatus = 0x32
	opAlignPhase   = 0x33
)

// Channel field identifiers for opSetField.
const (
	fieldEnable = iota
	fieldSampleRate
	fieldLO
	fieldNCO
	fieldGain
	fieldPath
	fieldLPF
	fieldTestSignal
)

// Stream data flags.
const (
	flagTimed = 1 << 0
	flagFlush = 1 << 1
)

// Status codes carried in the header. Zero is success.
const (
	statusOK               = 0
	statusInvalidConfig    = -1
	statusInvalidOperation = -2
	statusOutOfRange       = -3
	statusNotStreaming     = -4
	statusTransport        = -5
	statusTimeout          = -6
)

// statusErr maps a wire status onto the sdr error taxonomy.
func statusErr(op uint8, status int32) error {
	if status >= 0 {
		return nil
	}
	var sentinel error
	switch status {
	case statusInvalidConfig:
		sentinel = sdr.ErrInvalidConfig
	case statusInvalidOperation:
		sentinel = sdr.ErrInvalidOperation
	case statusOutOfRange:
		sentinel = sdr.ErrOutOfRange
	case statusNotStreaming:
		sentinel = sdr.ErrNotStreaming
	case statusTimeout:
		sentinel = sdr.ErrTimeout
	default:
		sentinel = sdr.ErrTransport
	}
	return fmt.Errorf("op 0x%02x rejected with status %d: %w", op, status, sentinel)
}

// errStatus maps an sdr error back onto a wire status. Used by servers and
// the test fixtures.
func errStatus(err error) int32 {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, sdr.ErrInvalidConfig):
		return statusInvalidConfig
	case errors.Is(err, sdr.ErrInvalidOperation):
		return statusInvalidOperation
	case errors.Is(err, sdr.ErrOutOfRange):
		return statusOutOfRange
	case errors.Is(err, sdr.ErrNotStreaming):
		return statusNotStreaming
	case errors.Is(err, sdr.ErrTimeout):
		return statusTimeout
	default:
		return statusTransport
	}
}

func writeFrame(w io.Writer, hdr header, payload []byte) error {
	var buf [headerSize]byte
	buf[0] = hdr.Op
	buf[1] = hdr.Module
	binary.BigEndian.PutUint16(buf[2:4], hdr.Flags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(hdr.Status))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// maxFrame bounds payload allocation against a corrupt length field.
const maxFrame = 1 << 24

func readFrame(r io.Reader) (header, []byte, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, nil, err
	}
	hdr := header{
		Op:     buf[0],
		Module: buf[1],
		Flags:  binary.BigEndian.Uint16(buf[2:4]),
		Status: int32(binary.BigEndian.Uint32(buf[4:8])),
		Length: binary.BigEndian.Uint32(buf[8:12]),
	}
	if hdr.Length > maxFrame {
		return header{}, nil, fmt.Errorf("frame length %d exceeds limit: %w", hdr.Length, sdr.ErrTransport)
	}
	var payload []byte
	if hdr.Length > 0 {
		payload = make([]byte, hdr.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return header{}, nil, err
		}
	}
	return hdr, payload, nil
}
