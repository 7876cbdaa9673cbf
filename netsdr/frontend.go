package netsdr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/openrfx/sdrhal/sdr"
)

// remoteFrontend is the sdr.Frontend of one remote RF module. Each call is
// one control round trip; the endpoint owns ordering within a command.
type remoteFrontend struct {
	ctl    *control
	module uint8

	// clock ranges are static per hardware family, fetched once at dial
	ranges map[sdr.ClockID][2]float64

	// rates mirrors the last applied sample rates so port sizing does not
	// need a wire round trip.
	mu    sync.Mutex
	rates [sdr.MaxChannelCount][2]float64
}

func dirByte(dir sdr.Direction) byte {
	if dir == sdr.DirTx {
		return 1
	}
	return 0
}

// setField programs one scalar channel field. The field id rides in the
// header flags; the payload is dir, channel, an auxiliary byte and the
// value.
func (f *remoteFrontend) setField(field uint16, dir sdr.Direction, ch uint8, value float64, aux uint8) error {
	var payload [12]byte
	payload[0] = dirByte(dir)
	payload[1] = ch
	payload[2] = aux
	binary.BigEndian.PutUint64(payload[4:12], math.Float64bits(value))
	_, _, err := f.ctl.roundTrip(opSetField, f.module, field, payload[:])
	return err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (f *remoteFrontend) ResetChannel(ch uint8) error {
	_, _, err := f.ctl.roundTrip(opResetChannel, f.module, 0, []byte{ch})
	return err
}

func (f *remoteFrontend) SetLOFrequency(dir sdr.Direction, ch uint8, freq float64) error {
	return f.setField(fieldLO, dir, ch, freq, 0)
}

func (f *remoteFrontend) SetNCOOffset(dir sdr.Direction, ch uint8, offset float64) error {
	return f.setField(fieldNCO, dir, ch, offset, 0)
}

func (f *remoteFrontend) SetSampleRate(dir sdr.Direction, ch uint8, rate float64, oversample uint8) error {
	if err := f.setField(fieldSampleRate, dir, ch, rate, oversample); err != nil {
		return err
	}
	f.mu.Lock()
	f.rates[ch][dirByte(dir)] = rate
	f.mu.Unlock()
	return nil
}

func (f *remoteFrontend) SetGain(dir sdr.Direction, ch uint8, gain float64) error {
	return f.setField(fieldGain, dir, ch, gain, 0)
}

func (f *remoteFrontend) SetPath(dir sdr.Direction, ch uint8, path uint8) error {
	return f.setField(fieldPath, dir, ch, 0, path)
}

func (f *remoteFrontend) SetLPF(dir sdr.Direction, ch uint8, bandwidth float64) error {
	return f.setField(fieldLPF, dir, ch, bandwidth, 0)
}

func (f *remoteFrontend) SetGFIR(dir sdr.Direction, ch uint8, enabled bool, taps []float64) error {
	payload := make([]byte, 8+8*len(taps))
	payload[0] = dirByte(dir)
	payload[1] = ch
	payload[2] = boolByte(enabled)
	binary.BigEndian.PutUint32(payload[4:8], uint32(len(taps)))
	for i, tap := range taps {
		binary.BigEndian.PutUint64(payload[8+8*i:], math.Float64bits(tap))
	}
	_, _, err := f.ctl.roundTrip(opSetGFIR, f.module, 0, payload)
	return err
}

func (f *remoteFrontend) SetTestSignal(dir sdr.Direction, ch uint8, enabled bool) error {
	return f.setField(fieldTestSignal, dir, ch, 0, boolByte(enabled))
}

func (f *remoteFrontend) EnableChannel(dir sdr.Direction, ch uint8, enabled bool) error {
	return f.setField(fieldEnable, dir, ch, 0, boolByte(enabled))
}

func (f *remoteFrontend) Calibrate(dir sdr.Direction, ch uint8) error {
	_, _, err := f.ctl.roundTrip(opCalibrate, f.module, 0, []byte{dirByte(dir), ch})
	return err
}

func (f *remoteFrontend) SetClock(clk sdr.ClockID, ch uint8, freq float64) error {
	var payload [12]byte
	payload[0] = byte(clk)
	payload[1] = ch
	binary.BigEndian.PutUint64(payload[4:12], math.Float64bits(freq))
	_, _, err := f.ctl.roundTrip(opSetClock, f.module, 0, payload[:])
	return err
}

func (f *remoteFrontend) ClockRange(clk sdr.ClockID) (min, max float64) {
	r, ok := f.ranges[clk]
	if !ok {
		return 0, 0
	}
	return r[0], r[1]
}

func (f *remoteFrontend) ChannelState(ch uint8) (sdr.ChannelConfig, error) {
	_, body, err := f.ctl.roundTrip(opChannelState, f.module, 0, []byte{ch})
	if err != nil {
		return sdr.ChannelConfig{}, err
	}
	var state sdr.ChannelConfig
	if err := json.Unmarshal(body, &state); err != nil {
		return sdr.ChannelConfig{}, fmt.Errorf("decode channel state: %v: %w", err, sdr.ErrTransport)
	}
	return state, nil
}

func (f *remoteFrontend) SampleRate(dir sdr.Direction, ch uint8) float64 {
	if ch >= sdr.MaxChannelCount {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rates[ch][dirByte(dir)]
}

// fetchClockRanges pulls the tunable range of every writable clock domain.
func fetchClockRanges(ctl *control, module uint8) (map[sdr.ClockID][2]float64, error) {
	ranges := make(map[sdr.ClockID][2]float64, 4)
	for _, clk := range []sdr.ClockID{sdr.ClkReference, sdr.ClkSXR, sdr.ClkSXT, sdr.ClkCGEN} {
		_, body, err := ctl.roundTrip(opClockRange, module, uint16(clk), nil)
		if err != nil {
			return nil, fmt.Errorf("clock %s range: %w", clk, err)
		}
		if len(body) != 16 {
			return nil, fmt.Errorf("clock range payload %d bytes: %w", len(body), sdr.ErrTransport)
		}
		ranges[clk] = [2]float64{
			math.Float64frombits(binary.BigEndian.Uint64(body[0:8])),
			math.Float64frombits(binary.BigEndian.Uint64(body[8:16])),
		}
	}
	return ranges, nil
}

// netAux serves the GPIO and custom-parameter surface over the control
// plane.
type netAux struct {
	ctl *control
}

func (a *netAux) gpio(op uint8, buf []byte, read bool) error {
	if read {
		_, body, err := a.ctl.roundTrip(op, 0, uint16(len(buf)), nil)
		if err != nil {
			return err
		}
		if len(body) < len(buf) {
			return fmt.Errorf("gpio response %d bytes, want %d: %w", len(body), len(buf), sdr.ErrTransport)
		}
		copy(buf, body)
		return nil
	}
	_, _, err := a.ctl.roundTrip(op, 0, 0, buf)
	return err
}

func (a *netAux) GPIOWrite(buf []byte) error    { return a.gpio(opGPIOWrite, buf, false) }
func (a *netAux) GPIORead(buf []byte) error     { return a.gpio(opGPIORead, buf, true) }
func (a *netAux) GPIODirWrite(buf []byte) error { return a.gpio(opGPIODirWrite, buf, false) }
func (a *netAux) GPIODirRead(buf []byte) error  { return a.gpio(opGPIODirRead, buf, true) }

type customParams struct {
	IDs    []uint8   `json:"ids"`
	Values []float64 `json:"values,omitempty"`
	Units  string    `json:"units,omitempty"`
}

func (a *netAux) CustomParameterWrite(ids []uint8, values []float64, units string) error {
	body, err := json.Marshal(customParams{IDs: ids, Values: values, Units: units})
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	_, _, err = a.ctl.roundTrip(opCustomWrite, 0, 0, body)
	return err
}

func (a *netAux) CustomParameterRead(ids []uint8, values []float64) (string, error) {
	req, err := json.Marshal(customParams{IDs: ids})
	if err != nil {
		return "", fmt.Errorf("encode parameters: %w", err)
	}
	_, body, err := a.ctl.roundTrip(opCustomRead, 0, 0, req)
	if err != nil {
		return "", err
	}
	var resp customParams
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode parameters: %v: %w", err, sdr.ErrTransport)
	}
	if len(resp.Values) != len(values) {
		return "", fmt.Errorf("%d values for %d parameters: %w", len(resp.Values), len(values), sdr.ErrTransport)
	}
	copy(values, resp.Values)
	return resp.Units, nil
}
