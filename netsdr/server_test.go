package netsdr

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/openrfx/sdrhal/sdr"
)

// fakeEndpoint is the test double of an FPGA-side stream endpoint: a small
// in-memory radio behind the wire protocol.
type fakeEndpoint struct {
	mu     sync.Mutex
	desc   *sdr.Descriptor
	state  [2]sdr.ChannelConfig
	gpio   [4]byte
	dir    [4]byte
	params map[uint8]float64

	// ops records the control opcodes seen, in order.
	ops []uint8

	// failOp, when non-zero, makes that opcode fail with failStatus.
	failOp     uint8
	failStatus int32
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		desc: &sdr.Descriptor{
			Name:            "NetSDR-Test",
			FirmwareVersion: "3.2",
			SerialNumber:    0xBEEF,
			SlaveIDs:        map[string]uint32{"RFIC": 0},
			RFSOC: []sdr.RFSOCDescription{{
				Name:         "NetRF",
				ChannelCount: 2,
				RxPathNames:  []string{"NONE", "LNAH"},
				TxPathNames:  []string{"NONE", "BAND1"},
			}},
		},
		params: map[uint8]float64{},
	}
}

func (s *fakeEndpoint) serveControl(t *testing.T, conn net.Conn) {
	for {
		hdr, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		status, body := s.handle(hdr, payload)
		if err := writeFrame(conn, header{Op: hdr.Op, Module: hdr.Module, Status: status}, body); err != nil {
			return
		}
	}
}

func (s *fakeEndpoint) handle(hdr header, payload []byte) (int32, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, hdr.Op)
	if s.failOp != 0 && hdr.Op == s.failOp {
		return s.failStatus, nil
	}

	switch hdr.Op {
	case opDescriptor:
		body, _ := json.Marshal(s.desc)
		return statusOK, body

	case opClockRange:
		var lo, hi float64
		switch sdr.ClockID(hdr.Flags) {
		case sdr.ClkReference:
			lo, hi = 10e6, 52e6
		case sdr.ClkSXR, sdr.ClkSXT:
			lo, hi = 30e6, 3.8e9
		case sdr.ClkCGEN:
			lo, hi = 1e6, 640e6
		}
		var body [16]byte
		binary.BigEndian.PutUint64(body[0:8], math.Float64bits(lo))
		binary.BigEndian.PutUint64(body[8:16], math.Float64bits(hi))
		return statusOK, body[:]

	case opSetField:
		s.applyField(hdr.Flags, payload)
		return statusOK, nil

	case opResetChannel:
		s.state[payload[0]] = sdr.ChannelConfig{}
		return statusOK, nil

	case opChannelState:
		body, _ := json.Marshal(s.state[payload[0]])
		return statusOK, body

	case opInit, opReset, opCalibrate, opSetGFIR, opSetClock:
		return statusOK, nil

	case opGPIOWrite:
		copy(s.gpio[:], payload)
		return statusOK, nil
	case opGPIORead:
		return statusOK, append([]byte(nil), s.gpio[:hdr.Flags]...)
	case opGPIODirWrite:
		copy(s.dir[:], payload)
		return statusOK, nil
	case opGPIODirRead:
		return statusOK, append([]byte(nil), s.dir[:hdr.Flags]...)

	case opCustomWrite:
		var req customParams
		_ = json.Unmarshal(payload, &req)
		for i, id := range req.IDs {
			s.params[id] = req.Values[i]
		}
		return statusOK, nil
	case opCustomRead:
		var req customParams
		_ = json.Unmarshal(payload, &req)
		resp := customParams{Units: "raw"}
		for _, id := range req.IDs {
			resp.Values = append(resp.Values, s.params[id])
		}
		body, _ := json.Marshal(resp)
		return statusOK, body

	case opSPI:
		count := binary.BigEndian.Uint32(payload[4:8])
		if hdr.Flags == 0 {
			return statusOK, nil
		}
		body := make([]byte, 4*count)
		for i := uint32(0); i < count; i++ {
			w := binary.BigEndian.Uint32(payload[8+4*i:])
			binary.BigEndian.PutUint32(body[4*i:], w+1)
		}
		return statusOK, body

	default:
		return statusInvalidOperation, nil
	}
}

func (s *fakeEndpoint) applyField(field uint16, payload []byte) {
	dir, ch, aux := payload[0], payload[1], payload[2]
	value := math.Float64frombits(binary.BigEndian.Uint64(payload[4:12]))
	c := &s.state[ch]
	rx := dir == 0
	switch field {
	case fieldEnable:
		if rx {
			c.RxEnabled = aux != 0
		} else {
			c.TxEnabled = aux != 0
		}
	case fieldSampleRate:
		if rx {
			c.RxSampleRate, c.RxOversample = value, aux
		} else {
			c.TxSampleRate, c.TxOversample = value, aux
		}
	case fieldLO:
		if rx {
			c.RxCenterFrequency = value
		} else {
			c.TxCenterFrequency = value
		}
	case fieldNCO:
		if rx {
			c.RxNCOOffset = value
		} else {
			c.TxNCOOffset = value
		}
	case fieldGain:
		if rx {
			c.RxGain = value
		} else {
			c.TxGain = value
		}
	case fieldPath:
		if rx {
			c.RxPath = aux
		} else {
			c.TxPath = aux
		}
	case fieldLPF:
		if rx {
			c.RxLPF = value
		} else {
			c.TxLPF = value
		}
	case fieldTestSignal:
		if rx {
			c.RxTestSignal = aux != 0
		} else {
			c.TxTestSignal = aux != 0
		}
	}
}

// serveStream handshakes one stream session and then produces deterministic
// I16 data frames, interleaving an initial status frame. TX frames from the
// client are recorded.
type streamServer struct {
	// expectAlign makes serve handle an alignment request after the open
	// handshake, recording it in alignSeen.
	expectAlign bool

	mu        sync.Mutex
	alignSeen bool
	txSeen    []header
	txBytes   int
}

func (ss *streamServer) serve(t *testing.T, conn net.Conn, nch, spp, dataFrames int) {
	hdr, _, err := readFrame(conn)
	if err != nil || hdr.Op != opStreamOpen {
		t.Errorf("stream handshake: op=0x%02x err=%v", hdr.Op, err)
		return
	}
	if err := writeFrame(conn, header{Op: opStreamOpen}, nil); err != nil {
		return
	}

	if ss.expectAlign {
		hdr, _, err := readFrame(conn)
		if err != nil || hdr.Op != opAlignPhase {
			t.Errorf("alignment handshake: op=0x%02x err=%v", hdr.Op, err)
			return
		}
		ss.mu.Lock()
		ss.alignSeen = true
		ss.mu.Unlock()
		if err := writeFrame(conn, header{Op: opAlignPhase}, nil); err != nil {
			return
		}
	}

	if nch > 0 {
		var status [8]byte
		binary.BigEndian.PutUint32(status[0:4], 3) // overrun
		binary.BigEndian.PutUint32(status[4:8], 1) // underrun
		if err := writeFrame(conn, header{Op: opStreamStatus}, status[:]); err != nil {
			return
		}
	}

	ts := uint64(0)
	for f := 0; f < dataFrames; f++ {
		payload := make([]byte, 8+spp*nch*4)
		binary.BigEndian.PutUint64(payload[0:8], ts)
		for smp := 0; smp < spp; smp++ {
			for ch := 0; ch < nch; ch++ {
				off := 8 + (smp*nch+ch)*4
				i, q := wireSample(ts+uint64(smp), uint8(ch))
				binary.LittleEndian.PutUint16(payload[off:], uint16(i))
				binary.LittleEndian.PutUint16(payload[off+2:], uint16(q))
			}
		}
		if err := writeFrame(conn, header{Op: opStreamData}, payload); err != nil {
			return
		}
		ts += uint64(spp)
	}

	// drain TX frames until the client hangs up
	for {
		hdr, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		ss.mu.Lock()
		ss.txSeen = append(ss.txSeen, hdr)
		ss.txBytes += len(payload)
		ss.mu.Unlock()
	}
}

func wireSample(ts uint64, ch uint8) (int16, int16) {
	v := int16(int64((ts+uint64(ch)*31)%4095) - 2047)
	return v, -v
}

// dialFixture wires a device to a fakeEndpoint over pipes.
func dialFixture(t *testing.T, s *fakeEndpoint, stream func(net.Conn)) *Device {
	t.Helper()
	ctlClient, ctlServer := net.Pipe()
	go s.serveControl(t, ctlServer)

	dial := func() (net.Conn, error) {
		client, server := net.Pipe()
		if stream == nil {
			t.Error("unexpected stream dial")
			_ = server.Close()
			return client, nil
		}
		go stream(server)
		return client, nil
	}

	ctl := newControl(ctlClient, time.Second)
	dev, err := assemble(ctl, dial, time.Second, &netAux{ctl: ctl})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}
