package sdr

// Packet is one transfer unit on the sample link: a channel-interleaved
// payload in link format, timestamped in sample clock ticks.
type Packet struct {
	// Timestamp of the first sample in the payload.
	Timestamp uint64
	// Payload holds Samples complex samples per enabled channel.
	Payload []byte
	// Samples per channel in the payload.
	Samples int
	// Timed asks the transport to honor Timestamp instead of free-running
	// submission. TX direction only.
	Timed bool
	// Flush asks the transport to submit immediately instead of batching.
	Flush bool
}

// Port moves packets between the streaming engine and one module's
// transport. The engine runs one reader and one writer goroutine against it;
// Close must unblock a concurrent ReadPacket.
type Port interface {
	// ReadPacket blocks until a packet arrives or the port closes, in
	// which case it returns io.EOF (or the fatal transport error).
	ReadPacket() (Packet, error)
	WritePacket(Packet) error
	Close() error
}

// PortOpener creates the transport port for one module's stream session.
// The engine calls it during StreamStart with the resolved batching tuning.
type PortOpener func(cfg *StreamConfig, module uint8, extras StreamExtras) (Port, error)

// PortDropReporter is implemented by ports that learn about hardware-side
// FIFO events: receive overflow and transmit starvation. Counts are
// cumulative for the port lifetime; packet loss is detected host-side from
// timestamp gaps.
type PortDropReporter interface {
	Drops() (overrun, underrun uint32)
}

// PhaseAligner is implemented by ports that can align the first sample of
// paired channels to a common hardware clock edge before streaming.
type PhaseAligner interface {
	AlignPhase() error
}
