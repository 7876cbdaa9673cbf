package sdr

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// StatusInterval is the fixed period of status callback invocation and data
// rate sampling.
const StatusInterval = 100 * time.Millisecond

// statCounters aggregates one direction's transport health. All fields are
// atomics so the data path and the monitor never share a lock.
type statCounters struct {
	isTx bool

	timestamp atomic.Uint64
	bytes     atomic.Int64
	packets   atomic.Int64
	overrun   atomic.Uint32
	underrun  atomic.Uint32
	loss      atomic.Uint32
	late      atomic.Uint32

	// rateBits holds the float32 bits of the last measured data rate.
	rateBits atomic.Uint32
}

func (c *statCounters) rate() float32 {
	return math.Float32frombits(c.rateBits.Load())
}

func (c *statCounters) snapshot(fill float32) StreamStats {
	return StreamStats{
		Timestamp:        c.timestamp.Load(),
		BytesTransferred: c.bytes.Load(),
		Packets:          c.packets.Load(),
		FIFOFilled:       fill,
		DataRateBps:      c.rate(),
		Overrun:          c.overrun.Load(),
		Underrun:         c.underrun.Load(),
		Loss:             c.loss.Load(),
		Late:             c.late.Load(),
		IsTx:             c.isTx,
	}
}

// monitor samples data rates and drives the optional status callback on a
// fixed interval. The callback runs on the monitor goroutine, never under a
// data-path lock; returning false requests a session stop, executed on a
// separate goroutine so the monitor can be torn down by the stop itself.
type monitor struct {
	cb       StatusCallback
	userData any

	rx, tx *statCounters
	// status builds a full snapshot including queue fill and port drops.
	status func(dir Direction) StreamStats
	onStop func()

	lastRxBytes int64
	lastTxBytes int64

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newMonitor(cfg *StreamConfig, rx, tx *statCounters, status func(Direction) StreamStats, onStop func()) *monitor {
	m := &monitor{
		cb:       cfg.StatusCallback,
		userData: cfg.UserData,
		rx:       rx,
		tx:       tx,
		status:   status,
		onStop:   onStop,
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *monitor) run() {
	defer m.wg.Done()
	tick := time.NewTicker(StatusInterval)
	defer tick.Stop()

	stopRequested := false
	for {
		select {
		case <-m.done:
			return
		case <-tick.C:
			m.sampleRates()
			if m.cb == nil || stopRequested {
				continue
			}
			st := m.status(DirRx)
			if !m.cb(&st, m.userData) {
				stopRequested = true
				go m.onStop()
			}
		}
	}
}

func (m *monitor) sampleRates() {
	secs := float32(StatusInterval.Seconds())

	b := m.rx.bytes.Load()
	m.rx.rateBits.Store(math.Float32bits(float32(b-m.lastRxBytes) / secs))
	m.lastRxBytes = b

	b = m.tx.bytes.Load()
	m.tx.rateBits.Store(math.Float32bits(float32(b-m.lastTxBytes) / secs))
	m.lastTxBytes = b
}

func (m *monitor) stop() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}
