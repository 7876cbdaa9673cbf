package sdr

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ModuleBackend couples the collaborators of one RF module: register-level
// control through Frontend and sample transport through OpenPort.
type ModuleBackend struct {
	Frontend Frontend
	OpenPort PortOpener
}

// AuxIO is the optional GPIO and custom-parameter surface of a device.
type AuxIO interface {
	GPIOWrite(buf []byte) error
	GPIORead(buf []byte) error
	GPIODirWrite(buf []byte) error
	GPIODirRead(buf []byte) error
	CustomParameterWrite(ids []uint8, values []float64, units string) error
	CustomParameterRead(ids []uint8, values []float64) (string, error)
}

// DeviceOption customizes a device built with NewDevice.
type DeviceOption func(*baseDevice)

// WithAuxIO attaches a GPIO/custom-parameter backend. Without one the
// corresponding calls fail instead of crashing.
func WithAuxIO(aux AuxIO) DeviceOption {
	return func(d *baseDevice) { d.aux = aux }
}

// WithLifecycle attaches backend-specific init, reset and close hooks.
func WithLifecycle(init func(context.Context) error, reset, closer func() error) DeviceOption {
	return func(d *baseDevice) {
		d.initFn = init
		d.resetFn = reset
		d.closeFn = closer
	}
}

type moduleRuntime struct {
	clk  *clockTree
	cm   *configManager
	sess *session
}

// baseDevice implements Device from a descriptor plus per-module backends.
// It carries the shared logic every hardware family reuses: configuration
// transactions, the clock tree, stream sessions and health monitoring.
type baseDevice struct {
	desc *Descriptor
	mods []moduleRuntime

	aux     AuxIO
	initFn  func(context.Context) error
	resetFn func() error
	closeFn func() error

	logCb  atomic.Value // LogCallback
	dataCb atomic.Value // DataCallback
}

// NewDevice assembles a Device from its collaborators. modules must match
// desc.RFSOC one to one.
func NewDevice(desc *Descriptor, modules []ModuleBackend, opts ...DeviceOption) (Device, error) {
	if len(modules) != len(desc.RFSOC) {
		return nil, fmt.Errorf("descriptor lists %d modules, got %d backends: %w",
			len(desc.RFSOC), len(modules), ErrInvalidConfig)
	}
	if len(modules) == 0 || len(modules) > MaxRFSOCCount {
		return nil, fmt.Errorf("module count %d outside 1..%d: %w", len(modules), MaxRFSOCCount, ErrInvalidConfig)
	}
	d := &baseDevice{desc: desc}
	for _, opt := range opts {
		opt(d)
	}
	for i, mb := range modules {
		soc := &desc.RFSOC[i]
		clk := newClockTree(mb.Frontend)
		d.mods = append(d.mods, moduleRuntime{
			clk:  clk,
			cm:   newConfigManager(mb.Frontend, clk, soc, d.logf),
			sess: newSession(uint8(i), soc, mb.OpenPort, d.logf, d.dataCallback),
		})
	}
	return d, nil
}

func (d *baseDevice) logf(level LogLevel, format string, args ...any) {
	if cb, ok := d.logCb.Load().(LogCallback); ok && cb != nil {
		cb(level, fmt.Sprintf(format, args...))
	}
}

func (d *baseDevice) dataCallback() DataCallback {
	if cb, ok := d.dataCb.Load().(DataCallback); ok {
		return cb
	}
	return nil
}

func (d *baseDevice) module(index uint8) (*moduleRuntime, error) {
	if int(index) >= len(d.mods) {
		return nil, fmt.Errorf("module %d of %d: %w", index, len(d.mods), ErrInvalidConfig)
	}
	return &d.mods[index], nil
}

// moduleForChannel maps a device-wide channel index onto its module and
// local channel, walking modules in descriptor order.
func (d *baseDevice) moduleForChannel(ch uint8) (*moduleRuntime, uint8, error) {
	rem := ch
	for i := range d.mods {
		count := d.desc.RFSOC[i].ChannelCount
		if rem < count {
			return &d.mods[i], rem, nil
		}
		rem -= count
	}
	return nil, 0, fmt.Errorf("channel %d beyond device channels: %w", ch, ErrInvalidConfig)
}

func (d *baseDevice) Descriptor() *Descriptor { return d.desc }

func (d *baseDevice) Init(ctx context.Context) error {
	if d.initFn != nil {
		return d.initFn(ctx)
	}
	return nil
}

func (d *baseDevice) Reset() error {
	if d.resetFn != nil {
		return d.resetFn()
	}
	for i := range d.mods {
		soc := &d.desc.RFSOC[i]
		for ch := uint8(0); ch < soc.ChannelCount; ch++ {
			if err := d.mods[i].cm.fe.ResetChannel(ch); err != nil {
				return fmt.Errorf("module %d channel %d: %w", i, ch, err)
			}
		}
	}
	return nil
}

func (d *baseDevice) Close() error {
	for i := range d.mods {
		_ = d.mods[i].sess.Stop()
	}
	if d.closeFn != nil {
		return d.closeFn()
	}
	return nil
}

func (d *baseDevice) Configure(cfg SDRConfig, module uint8) error {
	m, err := d.module(module)
	if err != nil {
		return err
	}
	// Serialize against stream lifecycle changes on the same module.
	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	return m.cm.Configure(cfg)
}

func (d *baseDevice) ClockFreq(clk ClockID, channel uint8) (float64, error) {
	m, local, err := d.moduleForChannel(channel)
	if err != nil {
		return 0, err
	}
	return m.clk.Freq(clk, local)
}

func (d *baseDevice) SetClockFreq(clk ClockID, freq float64, channel uint8) error {
	m, local, err := d.moduleForChannel(channel)
	if err != nil {
		return err
	}
	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	return m.clk.SetFreq(clk, freq, local)
}

func (d *baseDevice) Synchronize(toChip bool) error {
	for i := range d.mods {
		if err := d.mods[i].cm.Synchronize(toChip); err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
	}
	return nil
}

func (d *baseDevice) EnableCache(enable bool) {
	for i := range d.mods {
		d.mods[i].cm.EnableCache(enable)
	}
}

func (d *baseDevice) StreamSetup(cfg StreamConfig, module uint8) error {
	m, err := d.module(module)
	if err != nil {
		return err
	}
	return m.sess.Setup(cfg)
}

func (d *baseDevice) StreamStart(module uint8) error {
	m, err := d.module(module)
	if err != nil {
		return err
	}
	return m.sess.Start()
}

func (d *baseDevice) StreamStop(module uint8) error {
	m, err := d.module(module)
	if err != nil {
		return err
	}
	return m.sess.Stop()
}

func (d *baseDevice) StreamRx(module uint8, dst []Samples, count int, meta *StreamMeta) (int, error) {
	m, err := d.module(module)
	if err != nil {
		return 0, err
	}
	return m.sess.StreamRx(dst, count, meta)
}

func (d *baseDevice) StreamTx(module uint8, src []Samples, count int, meta *StreamMeta) (int, error) {
	m, err := d.module(module)
	if err != nil {
		return 0, err
	}
	return m.sess.StreamTx(src, count, meta)
}

func (d *baseDevice) StreamStatus(module uint8, dir Direction) (StreamStats, error) {
	m, err := d.module(module)
	if err != nil {
		return StreamStats{}, err
	}
	return m.sess.Status(dir)
}

func (d *baseDevice) GPIOWrite(buf []byte) error {
	if d.aux == nil {
		return fmt.Errorf("gpio not supported by this device: %w", ErrInvalidOperation)
	}
	return d.aux.GPIOWrite(buf)
}

func (d *baseDevice) GPIORead(buf []byte) error {
	if d.aux == nil {
		return fmt.Errorf("gpio not supported by this device: %w", ErrInvalidOperation)
	}
	return d.aux.GPIORead(buf)
}

func (d *baseDevice) GPIODirWrite(buf []byte) error {
	if d.aux == nil {
		return fmt.Errorf("gpio not supported by this device: %w", ErrInvalidOperation)
	}
	return d.aux.GPIODirWrite(buf)
}

func (d *baseDevice) GPIODirRead(buf []byte) error {
	if d.aux == nil {
		return fmt.Errorf("gpio not supported by this device: %w", ErrInvalidOperation)
	}
	return d.aux.GPIODirRead(buf)
}

func (d *baseDevice) CustomParameterWrite(ids []uint8, values []float64, units string) error {
	if d.aux == nil {
		return fmt.Errorf("custom parameters not supported by this device: %w", ErrInvalidOperation)
	}
	if len(ids) != len(values) {
		return fmt.Errorf("%d ids for %d values: %w", len(ids), len(values), ErrInvalidConfig)
	}
	return d.aux.CustomParameterWrite(ids, values, units)
}

func (d *baseDevice) CustomParameterRead(ids []uint8, values []float64) (string, error) {
	if d.aux == nil {
		return "", fmt.Errorf("custom parameters not supported by this device: %w", ErrInvalidOperation)
	}
	if len(ids) != len(values) {
		return "", fmt.Errorf("%d ids for %d values: %w", len(ids), len(values), ErrInvalidConfig)
	}
	return d.aux.CustomParameterRead(ids, values)
}

func (d *baseDevice) SetMessageLogCallback(cb LogCallback) { d.logCb.Store(cb) }
func (d *baseDevice) SetDataLogCallback(cb DataCallback)   { d.dataCb.Store(cb) }
