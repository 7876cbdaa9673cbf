package sdr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultSamplesInPacket  = 1024
	defaultRxPacketsInBatch = 8
	defaultTxPacketsInBatch = 8
	defaultBufferSamples    = 65536

	// minBlockingWait floors the wait budget of blocking data-path calls.
	minBlockingWait = time.Second
)

type sessionState int32

const (
	stateIdle sessionState = iota
	stateConfigured
	stateRunning
)

func (s sessionState) String() string {
	switch s {
	case stateConfigured:
		return "configured"
	case stateRunning:
		return "running"
	default:
		return "idle"
	}
}

// portHolder wraps a Port for atomic.Value storage.
type portHolder struct{ p Port }

// transportFault records a fatal link error raised by a worker.
type transportFault struct{ err error }

// session owns one module's stream lifecycle: Idle -> Configured -> Running
// -> Idle. The data path exchanges packets with the transport workers
// through buffered channels; callers never drive hardware I/O directly.
type session struct {
	module uint8
	soc    *RFSOCDescription
	opener PortOpener
	logf   func(level LogLevel, format string, args ...any)
	dataCb func() DataCallback

	// mu guards lifecycle transitions. The data path only reads state.
	mu    sync.Mutex
	state atomic.Int32

	cfg    StreamConfig
	extras StreamExtras
	nRx    int
	nTx    int

	portVal  atomic.Value // portHolder
	rxq      chan Packet
	txq      chan Packet
	done     chan struct{}
	wg       sync.WaitGroup
	mon      *monitor
	fatalErr atomic.Pointer[transportFault]

	rx *statCounters
	tx *statCounters

	// RX cursor, guarded by rxMu: the packet being consumed by StreamRx.
	rxMu       sync.Mutex
	pending    Packet
	pendingOff int

	// TX accumulator, guarded by txMu: samples batched up to a full
	// transport packet before submission.
	txMu         sync.Mutex
	accumPayload []byte
	accumSamples int
	txNext       uint64
	txTimed      bool
}

func newSession(module uint8, soc *RFSOCDescription, opener PortOpener,
	logf func(LogLevel, string, ...any), dataCb func() DataCallback) *session {
	return &session{module: module, soc: soc, opener: opener, logf: logf, dataCb: dataCb}
}

func (s *session) currentState() sessionState { return sessionState(s.state.Load()) }

func (s *session) loadPort() Port {
	if h, ok := s.portVal.Load().(portHolder); ok {
		return h.p
	}
	return nil
}

// resolveExtras fills unset tuning fields with the defaults.
func resolveExtras(in *StreamExtras) StreamExtras {
	ex := DefaultExtras()
	if in == nil {
		return ex
	}
	ex.UsePoll = in.UsePoll
	if in.RxSamplesInPacket != 0 {
		ex.RxSamplesInPacket = in.RxSamplesInPacket
	}
	if in.RxPacketsInBatch != 0 {
		ex.RxPacketsInBatch = in.RxPacketsInBatch
	}
	if in.TxMaxPacketsInBatch != 0 {
		ex.TxMaxPacketsInBatch = in.TxMaxPacketsInBatch
	}
	if in.TxSamplesInPacket != 0 {
		ex.TxSamplesInPacket = in.TxSamplesInPacket
	}
	return ex
}

// queueCap sizes a packet queue from the requested buffering, the sample
// rate hint, and the batch tuning.
func queueCap(bufferSize uint32, hintRate float64, samplesInPacket int, batch uint32) int {
	bufSamples := int(bufferSize)
	if bufSamples == 0 {
		if hintRate > 0 {
			// roughly 50 ms of buffering at the hinted rate
			bufSamples = int(hintRate / 20)
		} else {
			bufSamples = defaultBufferSamples
		}
	}
	c := bufSamples / samplesInPacket
	if c < int(batch) {
		c = int(batch)
	}
	if c < 2 {
		c = 2
	}
	return c
}

// Setup validates the stream intent and allocates buffering. No hardware
// state changes on failure. Re-configuring an already-configured (but not
// running) session replaces the previous setup.
func (s *session) Setup(cfg StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentState() == stateRunning {
		return fmt.Errorf("module %d stream is running, stop it before setup: %w", s.module, ErrInvalidOperation)
	}
	if err := cfg.validate(s.soc); err != nil {
		return err
	}

	cfg.RxChannels = append([]uint8(nil), cfg.RxChannels...)
	cfg.TxChannels = append([]uint8(nil), cfg.TxChannels...)
	s.cfg = cfg
	s.extras = resolveExtras(cfg.Extras)
	s.cfg.Extras = &s.extras
	s.nRx = len(cfg.RxChannels)
	s.nTx = len(cfg.TxChannels)

	s.rxq = make(chan Packet, queueCap(cfg.BufferSize, cfg.HintSampleRate,
		int(s.extras.RxSamplesInPacket), s.extras.RxPacketsInBatch))
	s.txq = make(chan Packet, queueCap(cfg.BufferSize, cfg.HintSampleRate,
		int(s.extras.TxSamplesInPacket), s.extras.TxMaxPacketsInBatch))

	s.rx = &statCounters{}
	s.tx = &statCounters{isTx: true}
	s.pending = Packet{}
	s.pendingOff = 0
	s.accumPayload = make([]byte, int(s.extras.TxSamplesInPacket)*s.nTx*s.cfg.LinkFormat.ComplexSize())
	s.accumSamples = 0
	s.txNext = 0
	s.txTimed = false
	s.fatalErr.Store(nil)

	s.state.Store(int32(stateConfigured))
	return nil
}

// Start arms the transport and begins accepting data-path calls. Starting a
// running session is a no-op with a warning.
func (s *session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.currentState() {
	case stateRunning:
		s.logf(LevelWarning, "module %d stream already running", s.module)
		return nil
	case stateIdle:
		return fmt.Errorf("module %d stream not configured: %w", s.module, ErrInvalidOperation)
	}

	port, err := s.opener(&s.cfg, s.module, s.extras)
	if err != nil {
		return fmt.Errorf("module %d open stream port: %w", s.module, err)
	}
	if s.cfg.AlignPhase {
		if pa, ok := port.(PhaseAligner); ok {
			if err := pa.AlignPhase(); err != nil {
				_ = port.Close()
				return fmt.Errorf("module %d phase alignment: %w", s.module, err)
			}
		} else {
			s.logf(LevelWarning, "module %d transport does not support phase alignment", s.module)
		}
	}

	s.portVal.Store(portHolder{p: port})
	s.done = make(chan struct{})
	if s.nRx > 0 {
		s.wg.Add(1)
		go s.rxWorker(port)
	}
	if s.nTx > 0 {
		s.wg.Add(1)
		go s.txWorker(port)
	}
	s.mon = newMonitor(&s.cfg, s.rx, s.tx, s.status, func() { _ = s.Stop() })
	s.state.Store(int32(stateRunning))
	s.logf(LevelInfo, "module %d stream started: %d rx, %d tx, format=%s link=%s",
		s.module, s.nRx, s.nTx, s.cfg.Format, s.cfg.LinkFormat)
	return nil
}

// Stop drains in-flight buffers and releases the transport. Idempotent, and
// safe to call while another goroutine is blocked in StreamRx/StreamTx:
// that call returns a short count instead of hanging.
func (s *session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentState() != stateRunning {
		s.state.Store(int32(stateIdle))
		return nil
	}
	// Fail new data-path calls immediately; blocked ones wake on done.
	s.state.Store(int32(stateIdle))
	s.mon.stop()
	s.mon = nil
	close(s.done)
	port := s.loadPort()
	if port != nil {
		if err := port.Close(); err != nil {
			s.logf(LevelWarning, "module %d close stream port: %v", s.module, err)
		}
	}
	s.wg.Wait()
	s.logf(LevelInfo, "module %d stream stopped", s.module)
	return nil
}

// rxWorker moves packets from the transport into the receive queue. It is
// the only goroutine reading the port.
func (s *session) rxWorker(port Port) {
	defer s.wg.Done()

	var dropRep PortDropReporter
	if dr, ok := port.(PortDropReporter); ok {
		dropRep = dr
	}
	var lastOver, lastUnder uint32
	mergeDrops := func() {
		if dropRep == nil {
			return
		}
		o, u := dropRep.Drops()
		if o > lastOver {
			s.rx.overrun.Add(o - lastOver)
			lastOver = o
		}
		if u > lastUnder {
			s.tx.underrun.Add(u - lastUnder)
			lastUnder = u
		}
	}
	defer mergeDrops()

	var next uint64
	haveNext := false
	for {
		pkt, err := port.ReadPacket()
		if err != nil {
			if !isClosedErr(err) {
				s.logf(LevelError, "module %d rx transport: %v", s.module, err)
				s.fatalErr.Store(&transportFault{err: fmt.Errorf("module %d rx: %v: %w", s.module, err, ErrTransport)})
			}
			return
		}
		if haveNext && pkt.Timestamp > next {
			s.rx.loss.Add(1)
		}
		next = pkt.Timestamp + uint64(pkt.Samples)
		haveNext = true
		s.rx.packets.Add(1)
		s.rx.bytes.Add(int64(len(pkt.Payload)))
		s.rx.timestamp.Store(next)
		mergeDrops()
		if cb := s.dataCb(); cb != nil {
			cb(false, pkt.Payload)
		}
		select {
		case s.rxq <- pkt:
		case <-s.done:
			return
		}
	}
}

// txWorker drains the transmit queue into the transport, flushing what is
// left when the session stops.
func (s *session) txWorker(port Port) {
	defer s.wg.Done()

	write := func(pkt Packet) bool {
		if err := port.WritePacket(pkt); err != nil {
			if !isClosedErr(err) {
				s.logf(LevelError, "module %d tx transport: %v", s.module, err)
				s.fatalErr.Store(&transportFault{err: fmt.Errorf("module %d tx: %v: %w", s.module, err, ErrTransport)})
			}
			return false
		}
		s.tx.packets.Add(1)
		s.tx.bytes.Add(int64(len(pkt.Payload)))
		s.tx.timestamp.Store(pkt.Timestamp + uint64(pkt.Samples))
		if cb := s.dataCb(); cb != nil {
			cb(true, pkt.Payload)
		}
		return true
	}

	for {
		select {
		case pkt := <-s.txq:
			if !write(pkt) {
				return
			}
		case <-s.done:
			for {
				select {
				case pkt := <-s.txq:
					if !write(pkt) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// waitBudget bounds how long a blocking data-path call may wait.
func (s *session) waitBudget(count int) time.Duration {
	if s.cfg.HintSampleRate > 0 {
		d := time.Duration(2*float64(count)/s.cfg.HintSampleRate*float64(time.Second)) + 100*time.Millisecond
		if d > minBlockingWait {
			return d
		}
	}
	return minBlockingWait
}

// nextPacket fetches a received packet according to the poll mode. It
// reports got=false when nothing is available (poll mode), the session is
// stopping, or the blocking wait expired (timedOut=true).
func (s *session) nextPacket(timer *time.Timer) (pkt Packet, got, timedOut bool) {
	if s.extras.UsePoll {
		select {
		case pkt = <-s.rxq:
			return pkt, true, false
		default:
			return Packet{}, false, false
		}
	}
	select {
	case pkt = <-s.rxq:
		return pkt, true, false
	case <-s.done:
		return Packet{}, false, false
	case <-timer.C:
		return Packet{}, false, true
	}
}

// StreamRx fills count samples per configured RX channel into dst,
// converting from the link format to the caller format. It returns the
// number of samples delivered per channel; short counts are not errors.
func (s *session) StreamRx(dst []Samples, count int, meta *StreamMeta) (int, error) {
	if s.currentState() != stateRunning {
		return 0, fmt.Errorf("module %d rx: %w", s.module, ErrNotStreaming)
	}
	if len(dst) != s.nRx {
		return 0, fmt.Errorf("rx expects %d channel buffers, got %d: %w", s.nRx, len(dst), ErrInvalidConfig)
	}
	for i := range dst {
		if dst[i].capFor(s.cfg.Format) < count {
			return 0, fmt.Errorf("rx buffer %d holds %d samples, need %d: %w",
				i, dst[i].capFor(s.cfg.Format), count, ErrInvalidConfig)
		}
	}

	s.rxMu.Lock()
	defer s.rxMu.Unlock()

	var timer *time.Timer
	if !s.extras.UsePoll {
		timer = time.NewTimer(s.waitBudget(count))
		defer timer.Stop()
	}

	nch := s.nRx
	linkSize := s.cfg.LinkFormat.ComplexSize()
	seeking := meta != nil && meta.UseTimestamp
	var target uint64
	if seeking {
		target = meta.Timestamp
	}

	n := 0
	timedOut := false
	for n < count {
		if s.pendingOff >= s.pending.Samples {
			// a dead transport fails the call now, not after the wait
			// budget; queued packets are still drained first
			if f := s.fatalErr.Load(); f != nil && len(s.rxq) == 0 {
				return n, f.err
			}
			pkt, got, to := s.nextPacket(timer)
			if !got {
				timedOut = to
				break
			}
			s.pending, s.pendingOff = pkt, 0
		}
		headTs := s.pending.Timestamp + uint64(s.pendingOff)
		if seeking {
			if headTs < target {
				skip := int(min(target-headTs, uint64(s.pending.Samples-s.pendingOff)))
				s.pendingOff += skip
				continue
			}
			if headTs > target {
				// requested time already elapsed; deliver from now
				s.rx.late.Add(1)
			}
			seeking = false
		}
		avail := s.pending.Samples - s.pendingOff
		take := min(count-n, avail)
		decodePayload(dst, n, s.pending.Payload[s.pendingOff*nch*linkSize:], take, s.cfg.LinkFormat, s.cfg.Format)
		if n == 0 && meta != nil {
			meta.Timestamp = headTs
		}
		n += take
		s.pendingOff += take
	}

	if n < count {
		if f := s.fatalErr.Load(); f != nil && len(s.rxq) == 0 && s.pendingOff >= s.pending.Samples {
			return n, f.err
		}
		if timedOut {
			return n, fmt.Errorf("rx delivered %d of %d samples: %w", n, count, ErrTimeout)
		}
	}
	return n, nil
}

// StreamTx submits count samples per configured TX channel, batching them
// into transport packets. meta.Flush forces immediate submission of a
// partially filled packet.
func (s *session) StreamTx(src []Samples, count int, meta *StreamMeta) (int, error) {
	if s.currentState() != stateRunning {
		return 0, fmt.Errorf("module %d tx: %w", s.module, ErrNotStreaming)
	}
	if len(src) != s.nTx {
		return 0, fmt.Errorf("tx expects %d channel buffers, got %d: %w", s.nTx, len(src), ErrInvalidConfig)
	}
	for i := range src {
		if src[i].capFor(s.cfg.Format) < count {
			return 0, fmt.Errorf("tx buffer %d holds %d samples, need %d: %w",
				i, src[i].capFor(s.cfg.Format), count, ErrInvalidConfig)
		}
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	var timer *time.Timer
	if !s.extras.UsePoll {
		timer = time.NewTimer(s.waitBudget(count))
		defer timer.Stop()
	}
	if meta != nil && meta.UseTimestamp && s.accumSamples == 0 {
		s.txNext = meta.Timestamp
		s.txTimed = true
	}

	nch := s.nTx
	linkSize := s.cfg.LinkFormat.ComplexSize()
	spp := int(s.extras.TxSamplesInPacket)

	n := 0
	for n < count {
		take := min(count-n, spp-s.accumSamples)
		encodePayload(s.accumPayload[s.accumSamples*nch*linkSize:], src, n, take, s.cfg.LinkFormat, s.cfg.Format)
		s.accumSamples += take
		n += take
		if s.accumSamples == spp {
			if !s.submitAccum(timer, false) {
				return n, nil
			}
		}
	}
	if meta != nil && meta.Flush && s.accumSamples > 0 {
		s.submitAccum(timer, true)
	}
	return n, nil
}

// submitAccum queues the accumulated packet, honoring the poll mode.
func (s *session) submitAccum(timer *time.Timer, flush bool) bool {
	nch := s.nTx
	linkSize := s.cfg.LinkFormat.ComplexSize()
	payload := make([]byte, s.accumSamples*nch*linkSize)
	copy(payload, s.accumPayload)
	pkt := Packet{Timestamp: s.txNext, Payload: payload, Samples: s.accumSamples, Timed: s.txTimed, Flush: flush}

	if s.extras.UsePoll {
		select {
		case s.txq <- pkt:
		default:
			return false
		}
	} else {
		select {
		case s.txq <- pkt:
		case <-s.done:
			return false
		case <-timer.C:
			return false
		}
	}
	s.txNext += uint64(s.accumSamples)
	s.accumSamples = 0
	return true
}

// status builds a health snapshot for one direction without blocking.
func (s *session) status(dir Direction) StreamStats {
	var st StreamStats
	if dir == DirTx {
		st = s.tx.snapshot(s.fill(s.txq))
	} else {
		st = s.rx.snapshot(s.fill(s.rxq))
	}
	st.TxDataRateBps = s.tx.rate()
	return st
}

func (s *session) fill(q chan Packet) float32 {
	if q == nil || cap(q) == 0 {
		return 0
	}
	return float32(len(q)) / float32(cap(q))
}

// Status returns the latest stats snapshot. Valid from StreamSetup until
// the next setup, including after a stop. Holds the lifecycle lock so a
// concurrent Setup cannot swap the counters mid-snapshot.
func (s *session) Status(dir Direction) (StreamStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rx == nil {
		return StreamStats{}, fmt.Errorf("module %d has no stream session: %w", s.module, ErrNotStreaming)
	}
	return s.status(dir), nil
}
