package netsdr

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/openrfx/sdrhal/internal/sshctl"
	"github.com/openrfx/sdrhal/sdr"
)

// Options tunes the connection behavior of Dial.
type Options struct {
	// Timeout bounds the TCP connect and every control round trip.
	// 0 means 5 seconds.
	Timeout time.Duration

	// MaxRetries bounds the exponential-backoff connect attempts.
	// 0 means 4.
	MaxRetries uint64

	// SSH routes GPIO and custom-parameter access through the board's
	// sysfs over SSH instead of the stream endpoint. Needed for firmware
	// that predates those control ops.
	SSH *sshctl.Config
}

func (o *Options) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return 5 * time.Second
	}
	return o.Timeout
}

func (o *Options) maxRetries() uint64 {
	if o == nil || o.MaxRetries == 0 {
		return 4
	}
	return o.MaxRetries
}

// Device is an sdr.Device reached over TCP, plus the addressed register
// access the on-wire protocol exposes.
type Device struct {
	sdr.Device
	ctl *control
}

// Dial connects to a stream endpoint, retrieves its capability record and
// assembles the device. Connect attempts retry with exponential backoff.
func Dial(addr string, opts *Options) (*Device, error) {
	timeout := opts.timeout()

	dial := func() (net.Conn, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.maxRetries())
		if err := backoff.Retry(op, b); err != nil {
			return nil, err
		}
		return conn, nil
	}

	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("connect %s: %v: %w", addr, err, sdr.ErrTransport)
	}
	ctl := newControl(conn, timeout)

	var aux sdr.AuxIO = &netAux{ctl: ctl}
	if opts != nil && opts.SSH != nil {
		sysfs, err := sshctl.New(*opts.SSH)
		if err != nil {
			_ = ctl.Close()
			return nil, err
		}
		aux = sysfs
	}

	dev, err := assemble(ctl, dial, timeout, aux)
	if err != nil {
		_ = ctl.Close()
		return nil, err
	}
	return dev, nil
}

// assemble builds the device from an established control connection and a
// dialer for stream connections. Split from Dial so tests can drive it over
// a pipe.
func assemble(ctl *control, dial func() (net.Conn, error), timeout time.Duration, aux sdr.AuxIO) (*Device, error) {
	desc, err := ctl.fetchDescriptor()
	if err != nil {
		return nil, fmt.Errorf("fetch descriptor: %w", err)
	}

	modules := make([]sdr.ModuleBackend, len(desc.RFSOC))
	for i := range desc.RFSOC {
		module := uint8(i)
		ranges, err := fetchClockRanges(ctl, module)
		if err != nil {
			return nil, err
		}
		fe := &remoteFrontend{ctl: ctl, module: module, ranges: ranges}
		modules[i] = sdr.ModuleBackend{
			Frontend: fe,
			OpenPort: func(cfg *sdr.StreamConfig, _ uint8, extras sdr.StreamExtras) (sdr.Port, error) {
				return openStream(dial, cfg, module, extras, timeout)
			},
		}
	}

	core, err := sdr.NewDevice(desc, modules,
		sdr.WithAuxIO(aux),
		sdr.WithLifecycle(
			func(ctx context.Context) error {
				_, _, err := ctl.roundTrip(opInit, 0, 0, nil)
				return err
			},
			func() error {
				_, _, err := ctl.roundTrip(opReset, 0, 0, nil)
				return err
			},
			ctl.Close,
		),
	)
	if err != nil {
		return nil, err
	}
	return &Device{Device: core, ctl: ctl}, nil
}

// SPI performs an addressed register transaction against one of the chips
// listed in Descriptor().SlaveIDs. mosi words are shifted out, and when miso
// is non-nil the same number of words is shifted back in.
func (d *Device) SPI(slave uint32, mosi []uint32, miso []uint32) error {
	if miso != nil && len(miso) != len(mosi) {
		return fmt.Errorf("%d mosi words for %d miso words: %w", len(mosi), len(miso), sdr.ErrInvalidConfig)
	}
	payload := make([]byte, 8+4*len(mosi))
	binary.BigEndian.PutUint32(payload[0:4], slave)
	binary.BigEndian.PutUint32(payload[4:8], uint32(len(mosi)))
	for i, w := range mosi {
		binary.BigEndian.PutUint32(payload[8+4*i:], w)
	}
	wantRead := uint16(0)
	if miso != nil {
		wantRead = 1
	}
	_, body, err := d.ctl.roundTrip(opSPI, 0, wantRead, payload)
	if err != nil {
		return err
	}
	if miso != nil {
		if len(body) < 4*len(miso) {
			return fmt.Errorf("spi response %d bytes for %d words: %w", len(body), len(miso), sdr.ErrTransport)
		}
		for i := range miso {
			miso[i] = binary.BigEndian.Uint32(body[4*i:])
		}
	}
	return nil
}
