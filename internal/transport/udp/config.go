// Package udp implements the UDPCP socket facade: the send engine (C6),
// receive loop (C7), wake-up signal (C8), and socket lifecycle (C9) that
// sit on top of the wire codec and packet model in
// internal/protocol/udpcp.
package udp

import (
	"sync"
	"time"

	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// MTU is the per-fragment payload limit used by the sender, per spec §3/§9
// (Q4): the maximum IPv4 datagram-length field value, not a safe link MTU.
const MTU = 65536

// Config holds the constructor configuration of spec §6. A zero Config is
// not valid; use DefaultConfig and override fields as needed.
type Config struct {
	// LocalAddress is the bind address, e.g. "0.0.0.0:0".
	LocalAddress string

	// TransferMode is the default outbound ack policy.
	TransferMode udpcp.TransferMode

	// ChecksumMode is the default outbound checksum policy.
	ChecksumMode udpcp.ChecksumMode

	// RetransmissionTimeout bounds each ack-wait attempt.
	RetransmissionTimeout time.Duration

	// RetransmissionAttempts caps transmissions per ack-needing packet.
	RetransmissionAttempts int

	// MaximumConnections is advisory only; the core never enforces it
	// (spec §9, Q3).
	MaximumConnections int

	// PollInterval bounds how long the receive worker blocks between
	// checks of the shutdown flag.
	PollInterval time.Duration
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		LocalAddress:           "0.0.0.0:0",
		TransferMode:           udpcp.AckEveryPacket,
		ChecksumMode:           udpcp.ChecksumEnabled,
		RetransmissionTimeout:  100 * time.Millisecond,
		RetransmissionAttempts: 5,
		MaximumConnections:     5,
		PollInterval:           500 * time.Millisecond,
	}
}

// ConnectionStats accumulates counters describing socket activity, exposed
// for diagnostics and the websocket monitor bridge.
type ConnectionStats struct {
	mu sync.Mutex

	PacketsSent        uint64
	PacketsReceived    uint64
	BytesSent          uint64
	BytesReceived      uint64
	Retransmits        uint64
	AcksSent           uint64
	AcksReceived       uint64
	UnsolicitedAcks    uint64
	InvalidPackets     uint64
	MessagesSent       uint64
	MessagesDelivered  uint64
}

// Snapshot returns a copy of the current counters, safe to read
// concurrently with ongoing updates.
func (s *ConnectionStats) Snapshot() ConnectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := *s
	snap.mu = sync.Mutex{}
	return snap
}

func (s *ConnectionStats) addPacketSent(n int) {
	s.mu.Lock()
	s.PacketsSent++
	s.BytesSent += uint64(n)
	s.mu.Unlock()
}

func (s *ConnectionStats) addPacketReceived(n int) {
	s.mu.Lock()
	s.PacketsReceived++
	s.BytesReceived += uint64(n)
	s.mu.Unlock()
}

func (s *ConnectionStats) incRetransmit() {
	s.mu.Lock()
	s.Retransmits++
	s.mu.Unlock()
}

func (s *ConnectionStats) incAckSent() {
	s.mu.Lock()
	s.AcksSent++
	s.mu.Unlock()
}

func (s *ConnectionStats) incAckReceived() {
	s.mu.Lock()
	s.AcksReceived++
	s.mu.Unlock()
}

func (s *ConnectionStats) incUnsolicitedAck() {
	s.mu.Lock()
	s.UnsolicitedAcks++
	s.mu.Unlock()
}

func (s *ConnectionStats) incInvalidPacket() {
	s.mu.Lock()
	s.InvalidPackets++
	s.mu.Unlock()
}

func (s *ConnectionStats) incMessageSent() {
	s.mu.Lock()
	s.MessagesSent++
	s.mu.Unlock()
}

func (s *ConnectionStats) incMessageDelivered() {
	s.mu.Lock()
	s.MessagesDelivered++
	s.mu.Unlock()
}
