// Package sshctl drives board sysfs attributes over SSH. It backs the GPIO
// and custom-parameter surface on devices whose stream endpoint predates
// those control ops, by logging into the board and touching sysfs directly.
package sshctl

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/openrfx/sdrhal/sdr"
)

// Config describes the SSH reachable board.
type Config struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	SysfsRoot string
}

// Client executes sysfs reads and writes over an SSH connection, dialed
// lazily and reused. It implements the device GPIO and custom-parameter
// surface.
type Client struct {
	mu     sync.Mutex
	cfg    Config
	client *ssh.Client
}

// New validates configuration and prepares a client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for sysfs fallback")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys/devices/platform/sdrhal"
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) dial() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	auth := []ssh.AuthMethod{}
	if c.cfg.Password != "" {
		auth = append(auth, ssh.Password(c.cfg.Password))
	}
	if c.cfg.KeyPath != "" {
		key, err := os.ReadFile(c.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %v: %w", err, sdr.ErrTransport)
	}
	c.client = client
	return client, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) writeAttr(attr, value string) error {
	client, err := c.dial()
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %v: %w", err, sdr.ErrTransport)
	}
	defer session.Close()

	// printf avoids shell interpretation of the value contents
	cmd := fmt.Sprintf("printf %s > %s", shellQuote(value), c.attrPath(attr))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("write %s: %v: %w", attr, err, sdr.ErrTransport)
	}
	return nil
}

func (c *Client) readAttr(attr string) (string, error) {
	client, err := c.dial()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %v: %w", err, sdr.ErrTransport)
	}
	defer session.Close()

	out, err := session.Output("cat " + c.attrPath(attr))
	if err != nil {
		return "", fmt.Errorf("read %s: %v: %w", attr, err, sdr.ErrTransport)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) attrPath(attr string) string {
	return path.Join(c.cfg.SysfsRoot, attr)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// GPIO state travels as hex strings through the board's aggregated
// value/direction attributes.

func (c *Client) GPIOWrite(buf []byte) error {
	return c.writeAttr("gpio_value", hex.EncodeToString(buf))
}

func (c *Client) GPIORead(buf []byte) error {
	s, err := c.readAttr("gpio_value")
	if err != nil {
		return err
	}
	return decodeGPIO(buf, s)
}

func (c *Client) GPIODirWrite(buf []byte) error {
	return c.writeAttr("gpio_direction", hex.EncodeToString(buf))
}

func (c *Client) GPIODirRead(buf []byte) error {
	s, err := c.readAttr("gpio_direction")
	if err != nil {
		return err
	}
	return decodeGPIO(buf, s)
}

func decodeGPIO(buf []byte, s string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("gpio attribute %q: %w", s, sdr.ErrTransport)
	}
	if len(raw) < len(buf) {
		return fmt.Errorf("gpio attribute holds %d bytes, need %d: %w", len(raw), len(buf), sdr.ErrTransport)
	}
	copy(buf, raw)
	return nil
}

func (c *Client) CustomParameterWrite(ids []uint8, values []float64, units string) error {
	for i, id := range ids {
		if err := c.writeAttr(paramAttr(id), formatParam(values[i], units)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) CustomParameterRead(ids []uint8, values []float64) (string, error) {
	units := ""
	for i, id := range ids {
		s, err := c.readAttr(paramAttr(id))
		if err != nil {
			return "", err
		}
		v, u, err := parseParam(s)
		if err != nil {
			return "", err
		}
		values[i] = v
		units = u
	}
	return units, nil
}

func paramAttr(id uint8) string {
	return fmt.Sprintf("param%d", id)
}

// formatParam renders "value unit"; parseParam reads it back, tolerating a
// bare value.
func formatParam(v float64, units string) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if units == "" {
		return s
	}
	return s + " " + units
}

func parseParam(s string) (float64, string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, "", fmt.Errorf("empty parameter attribute: %w", sdr.ErrTransport)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("parameter attribute %q: %w", s, sdr.ErrTransport)
	}
	units := ""
	if len(fields) > 1 {
		units = fields[1]
	}
	return v, units, nil
}
