package sdr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestDescriptorClone(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	orig := dev.Descriptor()
	clone := orig.Clone()
	clone.SlaveIDs["RFIC"] = 99
	clone.RFSOC[0].RxPathNames[0] = "mutated"

	if orig.SlaveIDs["RFIC"] == 99 {
		t.Error("clone shares the slave id map")
	}
	if orig.RFSOC[0].RxPathNames[0] == "mutated" {
		t.Error("clone shares the path name slices")
	}
}

func TestDescriptorModule(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	soc, err := dev.Descriptor().Module(0)
	if err != nil || soc.Name != "SimRF" || soc.ChannelCount != 2 {
		t.Errorf("Module(0) = %+v, %v", soc, err)
	}
	if _, err := dev.Descriptor().Module(1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Module(1): got %v", err)
	}
}

func TestNewDeviceValidation(t *testing.T) {
	desc := &Descriptor{RFSOC: []RFSOCDescription{{Name: "a", ChannelCount: 1}}}
	if _, err := NewDevice(desc, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("backend count mismatch: got %v", err)
	}
	if _, err := NewDevice(&Descriptor{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero modules: got %v", err)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	dev := NewSimDevice()
	if err := dev.Init(context.Background()); err != nil {
		t.Errorf("Init: %v", err)
	}
	if err := dev.Reset(); err != nil {
		t.Errorf("Reset: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDeviceResetRestoresDefaults(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	var cfg SDRConfig
	cfg.Channels[0] = rxChannel(100e6, 2e6, 1, 1, 5e6, 20)
	if err := dev.Configure(cfg, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := dev.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	dev.EnableCache(false)
	state, err := dev.(*baseDevice).mods[0].cm.ChannelState(0)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	if state.RxEnabled || state.RxCenterFrequency != 0 {
		t.Errorf("channel not back at defaults: %+v", state)
	}
}

func TestClockFreqChannelMapping(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	if err := dev.SetClockFreq(ClkSXR, 433e6, 1); err != nil {
		t.Fatalf("SetClockFreq: %v", err)
	}
	got, err := dev.ClockFreq(ClkSXR, 1)
	if err != nil || got != 433e6 {
		t.Errorf("ClockFreq = %g, %v", got, err)
	}
	if _, err := dev.ClockFreq(ClkSXR, 5); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("channel beyond device: got %v", err)
	}
}

func TestGPIO(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	if err := dev.GPIODirWrite([]byte{0x0F}); err != nil {
		t.Fatalf("GPIODirWrite: %v", err)
	}
	if err := dev.GPIOWrite([]byte{0xA5}); err != nil {
		t.Fatalf("GPIOWrite: %v", err)
	}
	buf := make([]byte, 1)
	if err := dev.GPIORead(buf); err != nil || buf[0] != 0xA5 {
		t.Errorf("GPIORead = %#x, %v", buf[0], err)
	}
	if err := dev.GPIODirRead(buf); err != nil || buf[0] != 0x0F {
		t.Errorf("GPIODirRead = %#x, %v", buf[0], err)
	}
}

func TestGPIOUnsupported(t *testing.T) {
	desc := &Descriptor{RFSOC: []RFSOCDescription{{Name: "bare", ChannelCount: 1}}}
	fe := newSimFrontend(&desc.RFSOC[0])
	dev, err := NewDevice(desc, []ModuleBackend{{Frontend: fe, OpenPort: func(cfg *StreamConfig, module uint8, extras StreamExtras) (Port, error) {
		return openSimPort(cfg, extras, 0), nil
	}}})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Close()

	if err := dev.GPIOWrite([]byte{1}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("GPIOWrite without aux: got %v", err)
	}
	if _, err := dev.CustomParameterRead([]uint8{1}, []float64{0}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("CustomParameterRead without aux: got %v", err)
	}
}

func TestCustomParameters(t *testing.T) {
	dev := NewSimDevice()
	defer dev.Close()

	if err := dev.CustomParameterWrite([]uint8{1, 2}, []float64{3.5, -1}, "raw"); err != nil {
		t.Fatalf("CustomParameterWrite: %v", err)
	}
	vals := make([]float64, 2)
	units, err := dev.CustomParameterRead([]uint8{1, 2}, vals)
	if err != nil || units != "raw" || vals[0] != 3.5 || vals[1] != -1 {
		t.Errorf("CustomParameterRead = %v %q, %v", vals, units, err)
	}

	if err := dev.CustomParameterWrite([]uint8{1}, []float64{1, 2}, ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("mismatched lengths: got %v", err)
	}
	if _, err := dev.CustomParameterRead([]uint8{77}, vals[:1]); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown parameter: got %v", err)
	}
}

func TestMessageLogCallback(t *testing.T) {
	dev, _ := simSession(t, StreamConfig{RxChannels: []uint8{0}, HintSampleRate: 10e6})

	var mu sync.Mutex
	var msgs []string
	dev.SetMessageLogCallback(func(level LogLevel, msg string) {
		mu.Lock()
		msgs = append(msgs, level.String()+" "+msg)
		mu.Unlock()
	})

	if err := dev.StreamStart(0); err != nil {
		t.Fatalf("StreamStart: %v", err)
	}
	if err := dev.StreamStart(0); err != nil {
		t.Fatalf("double StreamStart: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawStart, sawWarning bool
	for _, m := range msgs {
		if strings.Contains(m, "stream started") {
			sawStart = true
		}
		if strings.HasPrefix(m, "WARNING") && strings.Contains(m, "already running") {
			sawWarning = true
		}
	}
	if !sawStart || !sawWarning {
		t.Errorf("log messages missing start/warning: %q", msgs)
	}
}

// End to end: configure the radio, stream float samples over a packed 12-bit
// link, verify the data path and the health counters.
func TestDeviceEndToEndF32OverI12(t *testing.T) {
	const count = 1024
	dev := NewSimDevice()
	defer dev.Close()

	var cfg SDRConfig
	cfg.ReferenceClockFreq = 30.72e6
	cfg.Channels[0] = rxChannel(433e6, 2e6, 1, 1, 1.5e6, 30)
	cfg.Channels[1] = rxChannel(433e6, 2e6, 1, 1, 1.5e6, 30)
	if err := dev.Configure(cfg, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	sc := StreamConfig{
		RxChannels:     []uint8{0, 1},
		Format:         FormatF32,
		LinkFormat:     FormatI12,
		HintSampleRate: 2e6,
		Extras:         &StreamExtras{UsePoll: false},
	}
	if err := dev.StreamSetup(sc, 0); err != nil {
		t.Fatalf("StreamSetup: %v", err)
	}
	if err := dev.StreamStart(0); err != nil {
		t.Fatalf("StreamStart: %v", err)
	}

	dst := rxBuffers(2, count, FormatF32)
	var meta StreamMeta
	n, err := dev.StreamRx(0, dst, count, &meta)
	if err != nil || n != count {
		t.Fatalf("StreamRx: n=%d err=%v", n, err)
	}

	for ch := uint8(0); ch < 2; ch++ {
		for s := 0; s < count; s++ {
			i16, q16 := simSampleI16(meta.Timestamp+uint64(s), ch)
			want := complex(float32(i16>>4)/i12FullScale, float32(q16>>4)/i12FullScale)
			if dst[ch].F32[s] != want {
				t.Fatalf("ch %d sample %d: got %v, want %v", ch, s, dst[ch].F32[s], want)
			}
		}
	}

	st, err := dev.StreamStatus(0, DirRx)
	if err != nil {
		t.Fatalf("StreamStatus: %v", err)
	}
	if st.Packets == 0 || st.BytesTransferred == 0 {
		t.Errorf("no traffic accounted: %+v", st)
	}
	if st.Overrun != 0 || st.Loss != 0 {
		t.Errorf("unexpected drops: %+v", st)
	}

	if err := dev.StreamStop(0); err != nil {
		t.Fatalf("StreamStop: %v", err)
	}
}
