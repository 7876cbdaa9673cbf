package sdr

import (
	"encoding/binary"
	"math"
)

// Sample format conversion between the caller-facing buffers and the link
// payload. Link payloads carry channel-interleaved complex samples: sample 0
// of every enabled channel, then sample 1, and so on. Widening conversions
// are lossless; narrowing conversions saturate instead of wrapping.

const (
	i16FullScale = 32767
	i12FullScale = 2047
)

// f32ToI16 narrows a full-scale float to int16, saturating on overflow.
func f32ToI16(v float32) int16 {
	scaled := float64(v) * i16FullScale
	switch {
	case scaled >= i16FullScale:
		return i16FullScale
	case scaled <= -i16FullScale - 1:
		return -i16FullScale - 1
	default:
		return int16(math.Round(scaled))
	}
}

// f32ToI12 narrows a full-scale float to a 12-bit value held in an int16.
func f32ToI12(v float32) int16 {
	scaled := float64(v) * i12FullScale
	switch {
	case scaled >= i12FullScale:
		return i12FullScale
	case scaled <= -i12FullScale - 1:
		return -i12FullScale - 1
	default:
		return int16(math.Round(scaled))
	}
}

// i16ToI12 narrows by arithmetic shift; the low 4 bits are dropped.
func i16ToI12(v int16) int16 { return v >> 4 }

// i12ToI16 widens exactly.
func i12ToI16(v int16) int16 { return v << 4 }

// packI12 stores a 12-bit I/Q pair into 3 bytes, I in the low 12 bits.
func packI12(dst []byte, i, q int16) {
	ui, uq := uint16(i)&0x0FFF, uint16(q)&0x0FFF
	dst[0] = byte(ui)
	dst[1] = byte(ui>>8) | byte(uq<<4)
	dst[2] = byte(uq >> 4)
}

// unpackI12 reads a packed 12-bit I/Q pair, sign-extending both values.
func unpackI12(src []byte) (i, q int16) {
	ui := uint16(src[0]) | uint16(src[1]&0x0F)<<8
	uq := uint16(src[1])>>4 | uint16(src[2])<<4
	return signExtend12(ui), signExtend12(uq)
}

func signExtend12(v uint16) int16 {
	if v&0x0800 != 0 {
		v |= 0xF000
	}
	return int16(v)
}

// decodePayload converts count channel-interleaved link samples from payload
// into the per-channel caller buffers dst, starting at sample offset dstOff.
func decodePayload(dst []Samples, dstOff int, payload []byte, count int, link, caller DataFormat) {
	nch := len(dst)
	size := link.ComplexSize()
	for s := 0; s < count; s++ {
		for ch := 0; ch < nch; ch++ {
			off := (s*nch + ch) * size
			var i16i, i16q int16
			var f32i, f32q float32
			switch link {
			case FormatI16:
				i16i = int16(binary.LittleEndian.Uint16(payload[off:]))
				i16q = int16(binary.LittleEndian.Uint16(payload[off+2:]))
				f32i = float32(i16i) / i16FullScale
				f32q = float32(i16q) / i16FullScale
			case FormatI12:
				pi, pq := unpackI12(payload[off:])
				i16i, i16q = i12ToI16(pi), i12ToI16(pq)
				f32i = float32(pi) / i12FullScale
				f32q = float32(pq) / i12FullScale
			case FormatF32:
				f32i = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
				f32q = math.Float32frombits(binary.LittleEndian.Uint32(payload[off+4:]))
				i16i, i16q = f32ToI16(f32i), f32ToI16(f32q)
			}
			switch caller {
			case FormatI16:
				dst[ch].I16[(dstOff+s)*2] = i16i
				dst[ch].I16[(dstOff+s)*2+1] = i16q
			case FormatI12:
				dst[ch].I16[(dstOff+s)*2] = i16ToI12(i16i)
				dst[ch].I16[(dstOff+s)*2+1] = i16ToI12(i16q)
			case FormatF32:
				dst[ch].F32[dstOff+s] = complex(f32i, f32q)
			}
		}
	}
}

// encodePayload converts count samples per channel from the caller buffers
// src (starting at srcOff) into a channel-interleaved link payload.
func encodePayload(payload []byte, src []Samples, srcOff, count int, link, caller DataFormat) {
	nch := len(src)
	size := link.ComplexSize()
	for s := 0; s < count; s++ {
		for ch := 0; ch < nch; ch++ {
			var i16i, i16q int16
			var f32i, f32q float32
			switch caller {
			case FormatI16:
				i16i = src[ch].I16[(srcOff+s)*2]
				i16q = src[ch].I16[(srcOff+s)*2+1]
				f32i = float32(i16i) / i16FullScale
				f32q = float32(i16q) / i16FullScale
			case FormatI12:
				pi := src[ch].I16[(srcOff+s)*2]
				pq := src[ch].I16[(srcOff+s)*2+1]
				i16i, i16q = i12ToI16(pi), i12ToI16(pq)
				f32i = float32(pi) / i12FullScale
				f32q = float32(pq) / i12FullScale
			case FormatF32:
				c := src[ch].F32[srcOff+s]
				f32i, f32q = real(c), imag(c)
				i16i, i16q = f32ToI16(f32i), f32ToI16(f32q)
			}
			off := (s*nch + ch) * size
			switch link {
			case FormatI16:
				binary.LittleEndian.PutUint16(payload[off:], uint16(i16i))
				binary.LittleEndian.PutUint16(payload[off+2:], uint16(i16q))
			case FormatI12:
				if caller == FormatI12 {
					packI12(payload[off:], src[ch].I16[(srcOff+s)*2], src[ch].I16[(srcOff+s)*2+1])
				} else {
					packI12(payload[off:], i16ToI12(i16i), i16ToI12(i16q))
				}
			case FormatF32:
				binary.LittleEndian.PutUint32(payload[off:], math.Float32bits(f32i))
				binary.LittleEndian.PutUint32(payload[off+4:], math.Float32bits(f32q))
			}
		}
	}
}
