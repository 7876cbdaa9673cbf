package sdr

import (
	"errors"
	"testing"
)

func testConfigManager() (*configManager, *simFrontend, *clockTree) {
	fe := newSimFrontend(&RFSOCDescription{
		Name:         "test",
		ChannelCount: 2,
		RxPathNames:  []string{"NONE", "LNAH", "LNAL"},
		TxPathNames:  []string{"NONE", "BAND1"},
	})
	clk := newClockTree(fe)
	cm := newConfigManager(fe, clk, fe.soc, func(LogLevel, string, ...any) {})
	return cm, fe, clk
}

func rxChannel(freq, rate float64, oversample, path uint8, lpf, gain float64) ChannelConfig {
	return ChannelConfig{
		RxEnabled:         true,
		RxCenterFrequency: freq,
		RxSampleRate:      rate,
		RxOversample:      oversample,
		RxPath:            path,
		RxLPF:             lpf,
		RxGain:            gain,
	}
}

func TestConfigureReadback(t *testing.T) {
	cm, fe, clk := testConfigManager()

	var cfg SDRConfig
	cfg.ReferenceClockFreq = 30.72e6
	cfg.Channels[0] = rxChannel(100e6, 2e6, 2, 1, 5e6, 30)
	cfg.Channels[0].RxNCOOffset = 10e3

	if err := cm.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	state, err := fe.ChannelState(0)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	want := cfg.Channels[0]
	if state.RxCenterFrequency != want.RxCenterFrequency ||
		state.RxSampleRate != want.RxSampleRate ||
		state.RxOversample != want.RxOversample ||
		state.RxPath != want.RxPath ||
		state.RxNCOOffset != want.RxNCOOffset ||
		state.RxLPF != want.RxLPF ||
		state.RxGain != want.RxGain ||
		!state.RxEnabled {
		t.Errorf("hardware state %+v does not match applied config %+v", state, want)
	}

	// the clock tree tracked the pass
	if ref, _ := clk.Freq(ClkReference, 0); ref != 30.72e6 {
		t.Errorf("reference = %g, want 30.72e6", ref)
	}
	if lo, _ := clk.Freq(ClkSXR, 0); lo != 100e6 {
		t.Errorf("rx lo = %g, want 100e6", lo)
	}
	if cgen, _ := clk.Freq(ClkCGEN, 0); cgen != 2e6*tspDividerBase*2 {
		t.Errorf("cgen = %g, want %g", cgen, 2e6*float64(tspDividerBase)*2)
	}
	if tsp, _ := clk.Freq(ClkRxTSP, 0); tsp != 2e6 {
		t.Errorf("rx tsp = %g, want the channel sample rate 2e6", tsp)
	}
}

func TestConfigureIncrementalKeepsOtherChannels(t *testing.T) {
	cm, fe, _ := testConfigManager()

	var full SDRConfig
	full.Channels[0] = rxChannel(100e6, 2e6, 2, 1, 5e6, 30)
	if err := cm.Configure(full); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resets := fe.chs[0].reset

	var inc SDRConfig
	inc.SkipDefaults = true
	inc.Channels[1] = rxChannel(200e6, 4e6, 2, 2, 8e6, 10)
	if err := cm.Configure(inc); err != nil {
		t.Fatalf("incremental Configure: %v", err)
	}

	state, err := fe.ChannelState(0)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	if !state.RxEnabled {
		t.Errorf("incremental pass disabled channel 0: %+v", state)
	}
	if state.RxCenterFrequency != 100e6 || state.RxGain != 30 || state.RxPath != 1 {
		t.Errorf("incremental pass changed channel 0 hardware state: %+v", state)
	}
	if fe.chs[0].reset != resets {
		t.Errorf("incremental pass reset channel 0 (%d -> %d resets)", resets, fe.chs[0].reset)
	}

	cached, err := cm.ChannelState(0)
	if err != nil {
		t.Fatalf("cached ChannelState: %v", err)
	}
	if !cached.RxEnabled || cached.RxCenterFrequency != 100e6 || cached.RxGain != 30 {
		t.Errorf("cache lost channel 0 state: %+v", cached)
	}

	ch1, err := fe.ChannelState(1)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	if !ch1.RxEnabled || ch1.RxCenterFrequency != 200e6 || ch1.RxPath != 2 {
		t.Errorf("incremental channel not applied: %+v", ch1)
	}
}

func TestConfigureRejectsMissingChannel(t *testing.T) {
	cm, _, _ := testConfigManager()
	var cfg SDRConfig
	cfg.Channels[2] = rxChannel(100e6, 2e6, 1, 0, 5e6, 10)
	if err := cm.Configure(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Configure with channel 2 on a 2-channel module: got %v", err)
	}
}

func TestConfigureRollback(t *testing.T) {
	cm, fe, _ := testConfigManager()

	var good SDRConfig
	good.Channels[0] = rxChannel(100e6, 2e6, 1, 1, 5e6, 20)
	if err := cm.Configure(good); err != nil {
		t.Fatalf("Configure good: %v", err)
	}

	// the second pass fails at calibration, a step the first pass never ran
	fe.failStep = "rx calibrate"
	var bad SDRConfig
	bad.Channels[0] = rxChannel(200e6, 4e6, 1, 2, 10e6, 40)
	bad.Channels[0].RxCalibrate = true
	if err := cm.Configure(bad); !errors.Is(err, ErrTransport) {
		t.Fatalf("Configure bad: got %v, want wrapped ErrTransport", err)
	}
	fe.failStep = ""

	state, err := fe.ChannelState(0)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	if state.RxCenterFrequency != 100e6 || state.RxSampleRate != 2e6 ||
		state.RxPath != 1 || state.RxLPF != 5e6 || state.RxGain != 20 {
		t.Errorf("hardware not restored after failure: %+v", state)
	}

	cached, err := cm.ChannelState(0)
	if err != nil {
		t.Fatalf("cached ChannelState: %v", err)
	}
	if cached.RxCenterFrequency != 100e6 {
		t.Errorf("cache holds %g, want the known-good 100e6", cached.RxCenterFrequency)
	}
}

func TestSynchronizeFromChip(t *testing.T) {
	cm, fe, _ := testConfigManager()

	var cfg SDRConfig
	cfg.Channels[0] = rxChannel(100e6, 2e6, 1, 1, 5e6, 20)
	if err := cm.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// mutate hardware behind the cache's back
	if err := fe.SetGain(DirRx, 0, 12); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	cached, _ := cm.ChannelState(0)
	if cached.RxGain != 20 {
		t.Fatalf("cache should still hold 20, got %g", cached.RxGain)
	}

	if err := cm.Synchronize(false); err != nil {
		t.Fatalf("Synchronize(false): %v", err)
	}
	cached, _ = cm.ChannelState(0)
	if cached.RxGain != 12 {
		t.Errorf("cache after refresh holds %g, want 12", cached.RxGain)
	}
}

func TestEnableCacheOff(t *testing.T) {
	cm, fe, _ := testConfigManager()

	var cfg SDRConfig
	cfg.Channels[0] = rxChannel(100e6, 2e6, 1, 1, 5e6, 20)
	if err := cm.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := fe.SetGain(DirRx, 0, 7); err != nil {
		t.Fatalf("SetGain: %v", err)
	}

	cm.EnableCache(false)
	state, err := cm.ChannelState(0)
	if err != nil {
		t.Fatalf("ChannelState: %v", err)
	}
	if state.RxGain != 7 {
		t.Errorf("uncached read = %g, want the live value 7", state.RxGain)
	}
}

func TestSynchronizeToChipNeedsCache(t *testing.T) {
	cm, _, _ := testConfigManager()
	if err := cm.Synchronize(true); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Synchronize(true) without a pass: got %v", err)
	}
}

func TestConfigureGFIR(t *testing.T) {
	cm, fe, _ := testConfigManager()

	var cfg SDRConfig
	cfg.Channels[0] = rxChannel(100e6, 10e6, 1, 1, 5e6, 20)
	cfg.Channels[0].RxGFIR = GFIRFilter{Bandwidth: 3e6, Enabled: true}
	if err := cm.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	fe.mu.Lock()
	taps := fe.chs[0].rxTaps
	enabled := fe.chs[0].cfg.RxGFIR.Enabled
	fe.mu.Unlock()
	if !enabled {
		t.Error("gfir not enabled on hardware")
	}
	if len(taps) != gfirTapCount {
		t.Errorf("gfir programmed with %d taps, want %d", len(taps), gfirTapCount)
	}
}
