package netsdr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrfx/sdrhal/sdr"
)

// streamOpenRequest announces a stream session on a fresh connection.
type streamOpenRequest struct {
	RxChannels      []uint8        `json:"rx"`
	TxChannels      []uint8        `json:"tx"`
	LinkFormat      sdr.DataFormat `json:"link_format"`
	SamplesInPacket uint16         `json:"rx_samples_in_packet"`
	TxSamplesInPack uint16         `json:"tx_samples_in_packet"`
}

// streamPort carries one stream session. Data frames flow both ways;
// status frames arrive interleaved on the read side and feed the drop
// counters instead of the packet queue.
type streamPort struct {
	conn    net.Conn
	module  uint8
	nRx     int
	link    sdr.DataFormat
	timeout time.Duration

	wmu sync.Mutex

	overrun  atomic.Uint32
	underrun atomic.Uint32
}

// openStream dials a stream connection and performs the session handshake.
// It runs before the transport workers exist, so synchronous round trips on
// the connection are safe.
func openStream(dial func() (net.Conn, error), cfg *sdr.StreamConfig, module uint8,
	extras sdr.StreamExtras, timeout time.Duration) (*streamPort, error) {
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dial stream: %v: %w", err, sdr.ErrTransport)
	}

	req, err := json.Marshal(streamOpenRequest{
		RxChannels:      cfg.RxChannels,
		TxChannels:      cfg.TxChannels,
		LinkFormat:      cfg.LinkFormat,
		SamplesInPacket: extras.RxSamplesInPacket,
		TxSamplesInPack: extras.TxSamplesInPacket,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode stream open: %w", err)
	}

	p := &streamPort{conn: conn, module: module, nRx: len(cfg.RxChannels),
		link: cfg.LinkFormat, timeout: timeout}
	if err := p.roundTrip(opStreamOpen, 0, req); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// roundTrip is only valid while no reader goroutine runs on the port.
func (p *streamPort) roundTrip(op uint8, flags uint16, payload []byte) error {
	_ = p.conn.SetDeadline(time.Now().Add(p.timeout))
	defer p.conn.SetDeadline(time.Time{})
	if err := writeFrame(p.conn, header{Op: op, Module: p.module, Flags: flags}, payload); err != nil {
		return fmt.Errorf("send op 0x%02x: %v: %w", op, err, sdr.ErrTransport)
	}
	resp, _, err := readFrame(p.conn)
	if err != nil {
		return fmt.Errorf("recv op 0x%02x: %v: %w", op, err, sdr.ErrTransport)
	}
	if resp.Op != op {
		return fmt.Errorf("response op 0x%02x for request 0x%02x: %w", resp.Op, op, sdr.ErrTransport)
	}
	return statusErr(op, resp.Status)
}

func (p *streamPort) AlignPhase() error {
	return p.roundTrip(opAlignPhase, 0, nil)
}

func (p *streamPort) ReadPacket() (sdr.Packet, error) {
	for {
		hdr, payload, err := readFrame(p.conn)
		if err != nil {
			return sdr.Packet{}, err
		}
		switch hdr.Op {
		case opStreamStatus:
			if len(payload) >= 8 {
				p.overrun.Store(binary.BigEndian.Uint32(payload[0:4]))
				p.underrun.Store(binary.BigEndian.Uint32(payload[4:8]))
			}
		case opStreamData:
			if len(payload) < 8 {
				return sdr.Packet{}, fmt.Errorf("data frame %d bytes: %w", len(payload), sdr.ErrTransport)
			}
			ts := binary.BigEndian.Uint64(payload[0:8])
			body := payload[8:]
			stride := p.nRx * p.link.ComplexSize()
			if stride == 0 || len(body)%stride != 0 {
				return sdr.Packet{}, fmt.Errorf("data frame %d bytes for stride %d: %w",
					len(body), stride, sdr.ErrTransport)
			}
			return sdr.Packet{
				Timestamp: ts,
				Payload:   body,
				Samples:   len(body) / stride,
			}, nil
		default:
			return sdr.Packet{}, fmt.Errorf("unexpected stream op 0x%02x: %w", hdr.Op, sdr.ErrTransport)
		}
	}
}

func (p *streamPort) WritePacket(pkt sdr.Packet) error {
	var flags uint16
	if pkt.Timed {
		flags |= flagTimed
	}
	if pkt.Flush {
		flags |= flagFlush
	}
	payload := make([]byte, 8+len(pkt.Payload))
	binary.BigEndian.PutUint64(payload[0:8], pkt.Timestamp)
	copy(payload[8:], pkt.Payload)

	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	return writeFrame(p.conn, header{Op: opStreamData, Module: p.module, Flags: flags}, payload)
}

func (p *streamPort) Close() error {
	return p.conn.Close()
}

// Drops reports the endpoint's cumulative FIFO overflow and underflow
// counts, learned from interleaved status frames.
func (p *streamPort) Drops() (overrun, underrun uint32) {
	return p.overrun.Load(), p.underrun.Load()
}
