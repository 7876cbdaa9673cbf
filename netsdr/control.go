package netsdr

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/openrfx/sdrhal/sdr"
)

// control serializes request/response commands over one connection. The
// stream data plane never touches it, so a busy stream cannot starve
// configuration calls.
type control struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func newControl(conn net.Conn, timeout time.Duration) *control {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &control{conn: conn, timeout: timeout}
}

func (c *control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends one command and waits for its response. Responses must
// echo the request op; anything else means the link is out of sync and the
// caller should tear the device down.
func (c *control) roundTrip(op, module uint8, flags uint16, payload []byte) (header, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return header{}, nil, fmt.Errorf("control connection closed: %w", sdr.ErrTransport)
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := writeFrame(c.conn, header{Op: op, Module: module, Flags: flags}, payload); err != nil {
		return header{}, nil, fmt.Errorf("send op 0x%02x: %v: %w", op, err, sdr.ErrTransport)
	}
	resp, body, err := readFrame(c.conn)
	if err != nil {
		return header{}, nil, fmt.Errorf("recv op 0x%02x: %v: %w", op, err, sdr.ErrTransport)
	}
	if resp.Op != op {
		return header{}, nil, fmt.Errorf("response op 0x%02x for request 0x%02x: %w", resp.Op, op, sdr.ErrTransport)
	}
	if err := statusErr(op, resp.Status); err != nil {
		return resp, body, err
	}
	return resp, body, nil
}

// fetchDescriptor pulls the capability record. The payload is JSON; the
// control plane is low rate so readability wins over packing.
func (c *control) fetchDescriptor() (*sdr.Descriptor, error) {
	_, body, err := c.roundTrip(opDescriptor, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	var desc sdr.Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("decode descriptor: %v: %w", err, sdr.ErrTransport)
	}
	if len(desc.RFSOC) == 0 {
		return nil, fmt.Errorf("descriptor lists no RF modules: %w", sdr.ErrTransport)
	}
	return &desc, nil
}
