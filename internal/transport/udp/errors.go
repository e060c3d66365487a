package udp

import (
	"errors"
	"fmt"
	"net"

	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// Sentinel errors matching the socket-facade error taxonomy of spec §7.
var (
	// ErrClosed is returned by SendTo when called against a socket that
	// has not been opened or has already been closed, and by ReceiveFrom
	// once the socket has been closed and the delivery queue is empty.
	// ReceiveFrom on a socket that was never opened blocks.
	ErrClosed = errors.New("udp: socket closed")

	// ErrAckFailure is returned by SendTo when retransmission attempts are
	// exhausted without a matching ack for a packet that required one.
	ErrAckFailure = errors.New("udp: ack retries exhausted")

	// ErrUnsolicitedAck is surfaced on the worker error sink when an
	// inbound Ack packet arrives with no pending-ack slot to match it.
	ErrUnsolicitedAck = errors.New("udp: unsolicited ack")

	// ErrInvalidPacket is surfaced on the worker error sink when an
	// inbound datagram classifies as PacketTypeInvalid.
	ErrInvalidPacket = errors.New("udp: invalid inbound packet")
)

// AckFailureError carries the fragment that exhausted its retransmission
// budget.
type AckFailureError struct {
	MessageID      uint16
	FragmentNumber uint8
	FragmentAmount uint8
	Attempts       int
}

func (e *AckFailureError) Error() string {
	return fmt.Sprintf("udp: ack retries exhausted after %d attempts (message_id=%d, fragment=%d/%d)",
		e.Attempts, e.MessageID, e.FragmentNumber, e.FragmentAmount)
}

func (e *AckFailureError) Unwrap() error { return ErrAckFailure }

// UnsolicitedAckError carries the offending ack packet and its source, for
// a worker error that isn't matched by any pending-ack slot.
type UnsolicitedAckError struct {
	Packet udpcp.Packet
	Addr   *net.UDPAddr
}

func (e *UnsolicitedAckError) Error() string {
	return fmt.Sprintf("udp: unsolicited ack from %s: %s", e.Addr, e.Packet)
}

func (e *UnsolicitedAckError) Unwrap() error { return ErrUnsolicitedAck }

// InvalidPacketError carries the offending packet and its source, for a
// worker error raised when an inbound datagram classifies as
// PacketTypeInvalid.
type InvalidPacketError struct {
	Packet udpcp.Packet
	Addr   *net.UDPAddr
}

func (e *InvalidPacketError) Error() string {
	return fmt.Sprintf("udp: invalid packet from %s: %s", e.Addr, e.Packet)
}

func (e *InvalidPacketError) Unwrap() error { return ErrInvalidPacket }
