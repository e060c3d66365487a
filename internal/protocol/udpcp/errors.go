// Package udpcp implements the UDPCP v2 wire format: a bit-packed
// 12-byte header, Adler-32 checksumming, packet classification, a
// per-peer message id generator, and inbound fragment reassembly.
package udpcp

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the packet error taxonomy. Use errors.Is
// against these; use errors.As against the accompanying detail types
// when the offending value is needed.
var (
	ErrInvalidHeaderLength  = errors.New("udpcp: invalid header length")
	ErrInvalidVersion       = errors.New("udpcp: invalid packet version")
	ErrInvalidChecksum      = errors.New("udpcp: invalid packet checksum")
	ErrInvalidMessageID     = errors.New("udpcp: invalid message id")
	ErrInvalidFragmentCount = errors.New("udpcp: invalid fragment amount")
	ErrInvalidFragmentIndex = errors.New("udpcp: invalid fragment number")
	ErrAckBasePacket        = errors.New("udpcp: invalid ack base packet")
)

// HeaderLengthError reports a decode attempt against a buffer shorter
// than the fixed header size.
type HeaderLengthError struct {
	Length       int
	HeaderLength int
}

func (e *HeaderLengthError) Error() string {
	return fmt.Sprintf("udpcp: invalid header length %d (header length: %d)", e.Length, e.HeaderLength)
}

func (e *HeaderLengthError) Unwrap() error { return ErrInvalidHeaderLength }

// VersionError reports a decoded version field that doesn't match the
// protocol version this package implements.
type VersionError struct {
	Version        int
	ProtocolVersion int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("udpcp: invalid packet version %d (protocol version: %d)", e.Version, e.ProtocolVersion)
}

func (e *VersionError) Unwrap() error { return ErrInvalidVersion }

// ChecksumError reports a wire checksum that doesn't match the value
// recomputed from the decoded fields.
type ChecksumError struct {
	WireChecksum      uint32
	RecomputedChecksum uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("udpcp: invalid packet checksum 0x%08x (recomputed: 0x%08x)", e.WireChecksum, e.RecomputedChecksum)
}

func (e *ChecksumError) Unwrap() error { return ErrInvalidChecksum }

// MessageIDError reports a data-packet construction with a reserved
// message id.
type MessageIDError struct {
	MessageID uint16
}

func (e *MessageIDError) Error() string {
	return fmt.Sprintf("udpcp: invalid message id 0x%04x", e.MessageID)
}

func (e *MessageIDError) Unwrap() error { return ErrInvalidMessageID }

// FragmentCountError reports a fragment_amount below the minimum of 1.
type FragmentCountError struct {
	Amount int
}

func (e *FragmentCountError) Error() string {
	return fmt.Sprintf("udpcp: invalid fragment amount %d", e.Amount)
}

func (e *FragmentCountError) Unwrap() error { return ErrInvalidFragmentCount }

// FragmentIndexError reports a fragment_number outside [0, amount).
type FragmentIndexError struct {
	Amount int
	Number int
}

func (e *FragmentIndexError) Error() string {
	return fmt.Sprintf("udpcp: invalid fragment number %d (fragment amount: %d)", e.Number, e.Amount)
}

func (e *FragmentIndexError) Unwrap() error { return ErrInvalidFragmentIndex }

// AckBaseError reports ack() called against a packet that is neither
// Data nor Sync.
type AckBaseError struct {
	Base Packet
}

func (e *AckBaseError) Error() string {
	return fmt.Sprintf("udpcp: invalid ack base packet %s", e.Base)
}

func (e *AckBaseError) Unwrap() error { return ErrAckBasePacket }
