package sdr

import "fmt"

// RFSOCDescription describes one independently operable RF module.
type RFSOCDescription struct {
	Name         string
	ChannelCount uint8
	RxPathNames  []string
	TxPathNames  []string
}

// Descriptor is the static capability record of a device, produced once at
// discovery and never mutated afterwards.
type Descriptor struct {
	// Name is the displayable device name.
	Name string
	// ExpansionName names the expansion card, if the RFIC sits on one.
	ExpansionName string

	FirmwareVersion     string
	GatewareVersion     string
	GatewareRevision    string
	GatewareTargetBoard string
	HardwareVersion     string
	ProtocolVersion     string

	SerialNumber uint64

	// SlaveIDs maps internal chip names to their bus-select identifiers
	// for addressed register access.
	SlaveIDs map[string]uint32

	RFSOC []RFSOCDescription
}

// Clone returns a deep copy so callers can hold the record without aliasing
// device-owned state.
func (d *Descriptor) Clone() *Descriptor {
	out := *d
	out.SlaveIDs = make(map[string]uint32, len(d.SlaveIDs))
	for k, v := range d.SlaveIDs {
		out.SlaveIDs[k] = v
	}
	out.RFSOC = make([]RFSOCDescription, len(d.RFSOC))
	for i, soc := range d.RFSOC {
		out.RFSOC[i] = soc
		out.RFSOC[i].RxPathNames = append([]string(nil), soc.RxPathNames...)
		out.RFSOC[i].TxPathNames = append([]string(nil), soc.TxPathNames...)
	}
	return &out
}

// Module returns the description of one RF module.
func (d *Descriptor) Module(index uint8) (*RFSOCDescription, error) {
	if int(index) >= len(d.RFSOC) {
		return nil, fmt.Errorf("module %d of %d: %w", index, len(d.RFSOC), ErrInvalidConfig)
	}
	return &d.RFSOC[index], nil
}

// validateChannels checks a stream channel list against the module limits.
func (soc *RFSOCDescription) validateChannels(dir Direction, channels []uint8) error {
	if len(channels) > MaxChannelCount {
		return fmt.Errorf("%s channel count %d exceeds limit %d: %w",
			dir, len(channels), MaxChannelCount, ErrInvalidConfig)
	}
	seen := make(map[uint8]bool, len(channels))
	for _, ch := range channels {
		if ch >= soc.ChannelCount {
			return fmt.Errorf("%s channel %d not present on module %q (%d channels): %w",
				dir, ch, soc.Name, soc.ChannelCount, ErrInvalidConfig)
		}
		if seen[ch] {
			return fmt.Errorf("%s channel %d listed twice: %w", dir, ch, ErrInvalidConfig)
		}
		seen[ch] = true
	}
	return nil
}
