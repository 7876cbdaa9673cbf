package sdr

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Simulated device: an in-memory frontend plus a deterministic sample link.
// It backs the test suite and the CLI --sim mode, and doubles as the
// reference for what a hardware backend must provide.

// Tunable ranges of the simulated RF chip.
const (
	simRefMin  = 10e6
	simRefMax  = 52e6
	simLOMin   = 30e6
	simLOMax   = 3.8e9
	simCGENMin = 1e6
	simCGENMax = 640e6
	simRateMin = 100e3
	simRateMax = 61.44e6
	simLPFMin  = 1.4e6
	simLPFMax  = 130e6
	simGainMax = 73.0
)

type simChannelState struct {
	cfg       ChannelConfig
	rxTaps    []float64
	txTaps    []float64
	reset     int // number of ResetChannel calls, for tests
	calibRuns int
}

// simFrontend is the register-level collaborator of the simulated device.
// All state lives in memory; every setter validates against the simulated
// hardware ranges and keeps the previous value on failure.
type simFrontend struct {
	mu   sync.Mutex
	soc  *RFSOCDescription
	chs  [MaxChannelCount]simChannelState
	ref  float64
	cgen float64

	// failStep, when non-empty, makes the named operation fail. Used by
	// the rollback tests.
	failStep string
}

func newSimFrontend(soc *RFSOCDescription) *simFrontend {
	return &simFrontend{soc: soc, ref: 30.72e6, cgen: 245.76e6}
}

func (f *simFrontend) fail(step string) error {
	if f.failStep == step {
		return fmt.Errorf("simulated %s failure: %w", step, ErrTransport)
	}
	return nil
}

func (f *simFrontend) checkChannel(ch uint8) error {
	if ch >= f.soc.ChannelCount {
		return fmt.Errorf("channel %d of %d: %w", ch, f.soc.ChannelCount, ErrInvalidConfig)
	}
	return nil
}

func (f *simFrontend) ResetChannel(ch uint8) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chs[ch].cfg = ChannelConfig{}
	f.chs[ch].rxTaps = nil
	f.chs[ch].txTaps = nil
	f.chs[ch].reset++
	return nil
}

func (f *simFrontend) SetLOFrequency(dir Direction, ch uint8, freq float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if freq < simLOMin || freq > simLOMax {
		return fmt.Errorf("%s lo %g outside [%g, %g]: %w", dir, freq, simLOMin, simLOMax, ErrOutOfRange)
	}
	if err := f.fail(dir.String() + " frequency"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxCenterFrequency = freq
	} else {
		f.chs[ch].cfg.TxCenterFrequency = freq
	}
	return nil
}

func (f *simFrontend) SetNCOOffset(dir Direction, ch uint8, offset float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxNCOOffset = offset
	} else {
		f.chs[ch].cfg.TxNCOOffset = offset
	}
	return nil
}

func (f *simFrontend) SetSampleRate(dir Direction, ch uint8, rate float64, oversample uint8) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if rate < simRateMin || rate > simRateMax {
		return fmt.Errorf("%s rate %g outside [%g, %g]: %w", dir, rate, simRateMin, simRateMax, ErrOutOfRange)
	}
	if err := f.fail(dir.String() + " sample rate"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxSampleRate = rate
		f.chs[ch].cfg.RxOversample = oversample
	} else {
		f.chs[ch].cfg.TxSampleRate = rate
		f.chs[ch].cfg.TxOversample = oversample
	}
	return nil
}

func (f *simFrontend) SetGain(dir Direction, ch uint8, gain float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if gain < 0 || gain > simGainMax {
		return fmt.Errorf("%s gain %g outside [0, %g]: %w", dir, gain, simGainMax, ErrOutOfRange)
	}
	if err := f.fail(dir.String() + " gain"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxGain = gain
	} else {
		f.chs[ch].cfg.TxGain = gain
	}
	return nil
}

func (f *simFrontend) SetPath(dir Direction, ch uint8, path uint8) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	paths := f.soc.RxPathNames
	if dir == DirTx {
		paths = f.soc.TxPathNames
	}
	if int(path) >= len(paths) {
		return fmt.Errorf("%s path %d of %d: %w", dir, path, len(paths), ErrOutOfRange)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxPath = path
	} else {
		f.chs[ch].cfg.TxPath = path
	}
	return nil
}

func (f *simFrontend) SetLPF(dir Direction, ch uint8, bandwidth float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if bandwidth < simLPFMin || bandwidth > simLPFMax {
		return fmt.Errorf("%s lpf %g outside [%g, %g]: %w", dir, bandwidth, simLPFMin, simLPFMax, ErrOutOfRange)
	}
	if err := f.fail(dir.String() + " lpf"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxLPF = bandwidth
	} else {
		f.chs[ch].cfg.TxLPF = bandwidth
	}
	return nil
}

func (f *simFrontend) SetGFIR(dir Direction, ch uint8, enabled bool, taps []float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	taps = append([]float64(nil), taps...)
	if dir == DirRx {
		f.chs[ch].cfg.RxGFIR.Enabled = enabled
		f.chs[ch].rxTaps = taps
	} else {
		f.chs[ch].cfg.TxGFIR.Enabled = enabled
		f.chs[ch].txTaps = taps
	}
	return nil
}

func (f *simFrontend) SetTestSignal(dir Direction, ch uint8, enabled bool) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxTestSignal = enabled
	} else {
		f.chs[ch].cfg.TxTestSignal = enabled
	}
	return nil
}

func (f *simFrontend) EnableChannel(dir Direction, ch uint8, enabled bool) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == DirRx {
		f.chs[ch].cfg.RxEnabled = enabled
	} else {
		f.chs[ch].cfg.TxEnabled = enabled
	}
	return nil
}

func (f *simFrontend) Calibrate(dir Direction, ch uint8) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if err := f.fail(dir.String() + " calibrate"); err != nil {
		return err
	}
	f.mu.Lock()
	f.chs[ch].calibRuns++
	f.mu.Unlock()
	return nil
}

func (f *simFrontend) SetClock(clk ClockID, ch uint8, freq float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch clk {
	case ClkReference:
		f.ref = freq
	case ClkCGEN:
		f.cgen = freq
	case ClkSXR:
		f.chs[ch].cfg.RxCenterFrequency = freq
	case ClkSXT:
		f.chs[ch].cfg.TxCenterFrequency = freq
	}
	return nil
}

func (f *simFrontend) ClockRange(clk ClockID) (float64, float64) {
	switch clk {
	case ClkReference:
		return simRefMin, simRefMax
	case ClkCGEN:
		return simCGENMin, simCGENMax
	case ClkSXR, ClkSXT:
		return simLOMin, simLOMax
	default:
		return 0, 0
	}
}

func (f *simFrontend) ChannelState(ch uint8) (ChannelConfig, error) {
	if err := f.checkChannel(ch); err != nil {
		return ChannelConfig{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chs[ch].cfg, nil
}

func (f *simFrontend) SampleRate(dir Direction, ch uint8) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch >= f.soc.ChannelCount {
		return 0
	}
	if dir == DirTx {
		return f.chs[ch].cfg.TxSampleRate
	}
	return f.chs[ch].cfg.RxSampleRate
}

// simSampleI16 is the deterministic ramp produced by the simulated link: a
// 12-bit sawtooth shifted to full scale, so every link format carries the
// value exactly and tests can recompute what any sample must be.
func simSampleI16(ts uint64, ch uint8) (i, q int16) {
	v := int16(int64((ts+uint64(ch)*17)%4095) - 2047)
	return v << 4, -(v << 4)
}

// simPort is a demand-driven sample link: RX packets are synthesized when
// the engine asks for them, TX packets are counted and remembered.
type simPort struct {
	nRx, nTx int
	spp      int
	link     DataFormat
	rate     float64

	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	next    uint64
	lastTx  Packet
	txCount int64
	aligned bool
}

func openSimPort(cfg *StreamConfig, extras StreamExtras, rate float64) *simPort {
	return &simPort{
		nRx:    len(cfg.RxChannels),
		nTx:    len(cfg.TxChannels),
		spp:    int(extras.RxSamplesInPacket),
		link:   cfg.LinkFormat,
		rate:   rate,
		closed: make(chan struct{}),
	}
}

func (p *simPort) ReadPacket() (Packet, error) {
	select {
	case <-p.closed:
		return Packet{}, io.EOF
	default:
	}
	if p.rate > 0 {
		// pace roughly at the configured sample rate
		d := time.Duration(float64(p.spp) / p.rate * float64(time.Second))
		select {
		case <-time.After(d):
		case <-p.closed:
			return Packet{}, io.EOF
		}
	}

	p.mu.Lock()
	ts := p.next
	p.next += uint64(p.spp)
	p.mu.Unlock()

	src := make([]Samples, p.nRx)
	for ch := range src {
		src[ch].I16 = make([]int16, p.spp*2)
		for s := 0; s < p.spp; s++ {
			i, q := simSampleI16(ts+uint64(s), uint8(ch))
			src[ch].I16[s*2] = i
			src[ch].I16[s*2+1] = q
		}
	}
	payload := make([]byte, p.spp*p.nRx*p.link.ComplexSize())
	encodePayload(payload, src, 0, p.spp, p.link, FormatI16)
	return Packet{Timestamp: ts, Payload: payload, Samples: p.spp}, nil
}

func (p *simPort) WritePacket(pkt Packet) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	p.lastTx = pkt
	p.txCount++
	p.mu.Unlock()
	return nil
}

func (p *simPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// AlignPhase restarts the simulated sample clock so paired channels share
// their first edge.
func (p *simPort) AlignPhase() error {
	p.mu.Lock()
	p.next = 0
	p.aligned = true
	p.mu.Unlock()
	return nil
}

// simAux is the GPIO / custom-parameter bank of the simulated board.
type simAux struct {
	mu     sync.Mutex
	gpio   [4]byte
	dir    [4]byte
	params map[uint8]float64
}

func newSimAux() *simAux {
	return &simAux{params: map[uint8]float64{}}
}

func (a *simAux) GPIOWrite(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.gpio[:], buf)
	return nil
}

func (a *simAux) GPIORead(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(buf, a.gpio[:])
	return nil
}

func (a *simAux) GPIODirWrite(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.dir[:], buf)
	return nil
}

func (a *simAux) GPIODirRead(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(buf, a.dir[:])
	return nil
}

func (a *simAux) CustomParameterWrite(ids []uint8, values []float64, units string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, id := range ids {
		a.params[id] = values[i]
	}
	return nil
}

func (a *simAux) CustomParameterRead(ids []uint8, values []float64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, id := range ids {
		v, ok := a.params[id]
		if !ok {
			return "", fmt.Errorf("parameter %d not set: %w", id, ErrInvalidConfig)
		}
		values[i] = v
	}
	return "raw", nil
}

// NewSimDevice builds the fully software-backed device: one RF module with
// two channels, a deterministic sample link and an in-memory GPIO bank.
func NewSimDevice() Device {
	desc := &Descriptor{
		Name:                "SDRHAL-Sim",
		ExpansionName:       "none",
		FirmwareVersion:     "1.0",
		GatewareVersion:     "2.14",
		GatewareRevision:    "1",
		GatewareTargetBoard: "sim",
		HardwareVersion:     "4",
		ProtocolVersion:     "1",
		SerialNumber:        0x53494d30,
		SlaveIDs:            map[string]uint32{"RFIC": 0, "FPGA": 1},
		RFSOC: []RFSOCDescription{{
			Name:         "SimRF",
			ChannelCount: 2,
			RxPathNames:  []string{"NONE", "LNAH", "LNAL", "LNAW"},
			TxPathNames:  []string{"NONE", "BAND1", "BAND2"},
		}},
	}
	fe := newSimFrontend(&desc.RFSOC[0])
	opener := func(cfg *StreamConfig, module uint8, extras StreamExtras) (Port, error) {
		rate := cfg.HintSampleRate
		if rate == 0 && len(cfg.RxChannels) > 0 {
			rate = fe.SampleRate(DirRx, cfg.RxChannels[0])
		}
		return openSimPort(cfg, extras, rate), nil
	}
	dev, err := NewDevice(desc, []ModuleBackend{{Frontend: fe, OpenPort: opener}}, WithAuxIO(newSimAux()))
	if err != nil {
		// static assembly above cannot fail
		panic(err)
	}
	return dev
}
