package sdr

import (
	"fmt"
	"sync"
)

// configManager applies SDRConfig transactions to one module's frontend and
// maintains the configuration cache. Field application follows a fixed order
// respecting hardware dependencies: enables and sample rates first, then
// signal path, frequencies, filters, gain, and calibration last.
type configManager struct {
	mu  sync.Mutex
	fe  Frontend
	clk *clockTree
	soc *RFSOCDescription

	cache      [MaxChannelCount]ChannelConfig
	reference  float64
	cacheValid bool
	useCache   bool

	logf func(level LogLevel, format string, args ...any)
}

func newConfigManager(fe Frontend, clk *clockTree, soc *RFSOCDescription, logf func(LogLevel, string, ...any)) *configManager {
	return &configManager{fe: fe, clk: clk, soc: soc, useCache: true, logf: logf}
}

// Configure is one atomic configuration pass. On any step failure the
// previously valid configuration is restored and the error reported without
// partial application.
func (m *configManager) Configure(cfg SDRConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range cfg.Channels {
		if !cfg.Channels[ch].enabled() {
			continue
		}
		if uint8(ch) >= m.soc.ChannelCount {
			return fmt.Errorf("channel %d not present on module %q: %w", ch, m.soc.Name, ErrInvalidConfig)
		}
	}

	prev := m.cache
	prevRef := m.reference

	if err := m.applyAll(cfg); err != nil {
		m.rollback(prev, prevRef)
		return err
	}

	for ch := uint8(0); ch < m.soc.ChannelCount; ch++ {
		// an incremental pass merges only the populated channels
		if cfg.SkipDefaults && !cfg.Channels[ch].enabled() {
			continue
		}
		m.cache[ch] = cfg.Channels[ch]
	}
	if cfg.ReferenceClockFreq != 0 {
		m.reference = cfg.ReferenceClockFreq
	}
	m.cacheValid = true
	return nil
}

func (m *configManager) applyAll(cfg SDRConfig) error {
	if cfg.ReferenceClockFreq != 0 {
		if err := m.clk.SetFreq(ClkReference, cfg.ReferenceClockFreq, 0); err != nil {
			return err
		}
	}
	for ch := uint8(0); ch < m.soc.ChannelCount; ch++ {
		c := cfg.Channels[ch]
		if !cfg.SkipDefaults {
			if err := m.fe.ResetChannel(ch); err != nil {
				return fmt.Errorf("reset channel %d: %w", ch, err)
			}
		}
		// Unpopulated channels are left untouched; on the full pass the
		// reset above already disabled them.
		if !c.enabled() {
			continue
		}
		if err := m.applyChannel(ch, c); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
	}
	return nil
}

// applyChannel programs one channel in dependency order.
func (m *configManager) applyChannel(ch uint8, c ChannelConfig) error {
	type step struct {
		name string
		run  func() error
	}
	var steps []step

	dirSteps := func(dir Direction, enabled bool, rate float64, oversample uint8,
		path uint8, freq, nco, lpf, gain float64, gfir GFIRFilter, test, cal bool) {
		steps = append(steps, step{dir.String() + " enable", func() error {
			return m.fe.EnableChannel(dir, ch, enabled)
		}})
		if !enabled {
			return
		}
		if rate != 0 {
			steps = append(steps, step{dir.String() + " sample rate", func() error {
				if err := m.fe.SetSampleRate(dir, ch, rate, oversample); err != nil {
					return err
				}
				os := oversample
				if os == 0 {
					os = 1
				}
				m.clk.trackCGEN(rate * float64(tspDividerBase*int(os)))
				return nil
			}})
		}
		steps = append(steps, step{dir.String() + " path", func() error {
			return m.fe.SetPath(dir, ch, path)
		}})
		if freq != 0 {
			steps = append(steps, step{dir.String() + " frequency", func() error {
				if err := m.fe.SetLOFrequency(dir, ch, freq); err != nil {
					return err
				}
				m.clk.trackLO(dir, ch, freq)
				return nil
			}})
		}
		if nco != 0 {
			steps = append(steps, step{dir.String() + " nco", func() error {
				return m.fe.SetNCOOffset(dir, ch, nco)
			}})
		}
		if lpf != 0 {
			steps = append(steps, step{dir.String() + " lpf", func() error {
				return m.fe.SetLPF(dir, ch, lpf)
			}})
		}
		steps = append(steps, step{dir.String() + " gfir", func() error {
			if !gfir.Enabled {
				return m.fe.SetGFIR(dir, ch, false, nil)
			}
			srate := rate
			if srate == 0 {
				srate = m.fe.SampleRate(dir, ch)
			}
			taps, err := gfirTaps(gfir.Bandwidth, srate)
			if err != nil {
				return err
			}
			return m.fe.SetGFIR(dir, ch, true, taps)
		}})
		steps = append(steps, step{dir.String() + " gain", func() error {
			return m.fe.SetGain(dir, ch, gain)
		}})
		steps = append(steps, step{dir.String() + " test signal", func() error {
			return m.fe.SetTestSignal(dir, ch, test)
		}})
		if cal {
			steps = append(steps, step{dir.String() + " calibrate", func() error {
				return m.fe.Calibrate(dir, ch)
			}})
		}
	}

	dirSteps(DirRx, c.RxEnabled, c.RxSampleRate, c.RxOversample, c.RxPath,
		c.RxCenterFrequency, c.RxNCOOffset, c.RxLPF, c.RxGain, c.RxGFIR, c.RxTestSignal, c.RxCalibrate)
	dirSteps(DirTx, c.TxEnabled, c.TxSampleRate, c.TxOversample, c.TxPath,
		c.TxCenterFrequency, c.TxNCOOffset, c.TxLPF, c.TxGain, c.TxGFIR, c.TxTestSignal, c.TxCalibrate)

	for _, s := range steps {
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	m.clk.setDividers(ch, c.RxOversample, c.TxOversample)
	return nil
}

// rollback restores the last known-good configuration after a failed pass.
// Errors during restore are logged, not returned; the cache keeps the
// known-good values either way.
func (m *configManager) rollback(prev [MaxChannelCount]ChannelConfig, prevRef float64) {
	if prevRef != 0 {
		if err := m.clk.SetFreq(ClkReference, prevRef, 0); err != nil {
			m.logf(LevelWarning, "rollback reference clock: %v", err)
		}
	}
	for ch := uint8(0); ch < m.soc.ChannelCount; ch++ {
		if !prev[ch].enabled() {
			continue
		}
		if err := m.applyChannel(ch, prev[ch]); err != nil {
			m.logf(LevelWarning, "rollback channel %d: %v", ch, err)
		}
	}
	m.cache = prev
	m.reference = prevRef
}

// Synchronize pushes the cache to hardware (toChip) or refreshes the cache
// from hardware readback.
func (m *configManager) Synchronize(toChip bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if toChip {
		if !m.cacheValid {
			return fmt.Errorf("no cached configuration to push: %w", ErrInvalidOperation)
		}
		for ch := uint8(0); ch < m.soc.ChannelCount; ch++ {
			if !m.cache[ch].enabled() {
				continue
			}
			if err := m.applyChannel(ch, m.cache[ch]); err != nil {
				return fmt.Errorf("synchronize channel %d: %w", ch, err)
			}
		}
		return nil
	}

	for ch := uint8(0); ch < m.soc.ChannelCount; ch++ {
		state, err := m.fe.ChannelState(ch)
		if err != nil {
			m.cacheValid = false
			return fmt.Errorf("read channel %d state: %w", ch, err)
		}
		m.cache[ch] = state
	}
	m.cacheValid = true
	return nil
}

// EnableCache controls whether ChannelState reads are served from the cache.
// With the cache disabled reads round-trip to hardware, so values written
// behind the cache's back are never served stale.
func (m *configManager) EnableCache(enable bool) {
	m.mu.Lock()
	m.useCache = enable
	m.mu.Unlock()
}

// ChannelState returns the channel configuration, from cache when enabled
// and valid, otherwise straight from hardware.
func (m *configManager) ChannelState(ch uint8) (ChannelConfig, error) {
	if ch >= m.soc.ChannelCount {
		return ChannelConfig{}, fmt.Errorf("channel %d not present: %w", ch, ErrInvalidConfig)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.useCache && m.cacheValid {
		return m.cache[ch], nil
	}
	return m.fe.ChannelState(ch)
}
