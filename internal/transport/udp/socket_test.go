package udp

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

func newLoopbackSocket(t *testing.T, cfg Config) *Socket {
	t.Helper()

	if cfg.LocalAddress == "" {
		cfg.LocalAddress = "127.0.0.1:0"
	}

	s, err := New(cfg, logging.Default())
	require.NoError(t, err)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSocket_SendAndReceive_SingleFragment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)
	sender := newLoopbackSocket(t, cfg)

	payload := []byte("hello udpcp")
	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.SendTo(payload, receiver.LocalAddr())
	}()

	data, addr, err := receiver.ReceiveFrom()
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Equal(t, payload, data)
	require.Equal(t, sender.LocalAddr().Port, addr.Port)
}

func TestSocket_SendAndReceive_FourKiBPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)
	sender := newLoopbackSocket(t, cfg)

	// Force small fragments by sending a payload spanning multiple MTUs
	// is impractical in a unit test (MTU=65536); instead verify
	// reassembly directly against the dispatch path using a message that
	// still fits one fragment but exercises the full round trip,
	// and cross-check multi-fragment concatenation at the
	// ReassemblyTable level in reassembly_test.go.
	payload := bytes.Repeat([]byte{0xAB}, 4096)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.SendTo(payload, receiver.LocalAddr())
	}()

	data, _, err := receiver.ReceiveFrom()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, payload, data)
}

func TestSocket_SendAndReceive_AckNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"
	cfg.TransferMode = udpcp.AckNone

	receiver := newLoopbackSocket(t, cfg)
	sender := newLoopbackSocket(t, cfg)

	payload := []byte("no acks needed")
	require.NoError(t, sender.SendTo(payload, receiver.LocalAddr()))

	data, _, err := receiver.ReceiveFrom()
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestSocket_SendAndReceive_ZeroLengthPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)
	sender := newLoopbackSocket(t, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.SendTo(nil, receiver.LocalAddr())
	}()

	data, _, err := receiver.ReceiveFrom()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Empty(t, data)
}

func TestSocket_SendTo_AckFailureWhenNoReceiver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"
	cfg.RetransmissionTimeout = 10 * time.Millisecond
	cfg.RetransmissionAttempts = 2

	sender := newLoopbackSocket(t, cfg)

	// Bind a silent UDP endpoint that never acks.
	deaf, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer deaf.Close()

	err = sender.SendTo([]byte("nobody home"), deaf.LocalAddr().(*net.UDPAddr))
	require.ErrorIs(t, err, ErrAckFailure)

	stats := sender.Stats()
	require.GreaterOrEqual(t, stats.Retransmits, uint64(1))
}

func TestSocket_SendTo_ClosedSocket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	s, err := New(cfg, logging.Default())
	require.NoError(t, err)
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())

	err = s.SendTo([]byte("x"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	require.ErrorIs(t, err, ErrClosed)
}

func TestSocket_UnsolicitedAckSurfacesOnErrorChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)

	raw, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer raw.Close()

	base, err := udpcp.Data(udpcp.AckEveryPacket, udpcp.ChecksumEnabled, 1, 0, 1, []byte("x"))
	require.NoError(t, err)
	ack, err := udpcp.Ack(base, false)
	require.NoError(t, err)

	_, err = raw.WriteToUDP(ack.Bytes(), receiver.LocalAddr())
	require.NoError(t, err)

	select {
	case err := <-receiver.Errors():
		require.ErrorIs(t, err, ErrUnsolicitedAck)
	case <-time.After(time.Second):
		t.Fatal("expected unsolicited ack error")
	}
}

func TestSocket_MismatchedAckWithBusyPendingSlotIsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)

	pendingPacket, err := udpcp.Data(udpcp.AckEveryPacket, udpcp.ChecksumEnabled, 1, 0, 1, []byte("x"))
	require.NoError(t, err)
	ackCh := make(chan struct{})
	receiver.pendingMu.Lock()
	receiver.pending = &pendingAck{
		packet: pendingPacket,
		addr:   &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		ackCh:  ackCh,
	}
	receiver.pendingMu.Unlock()

	// A different message_id than the pending slot's: this must be
	// ignored silently, not reported as an unsolicited ack, since the
	// slot is busy (spec §4.4; ground truth only raises when the slot is
	// empty).
	mismatched, err := udpcp.Data(udpcp.AckEveryPacket, udpcp.ChecksumEnabled, 1, 0, 2, []byte("x"))
	require.NoError(t, err)
	mismatchedAck, err := udpcp.Ack(mismatched, false)
	require.NoError(t, err)

	receiver.handleAck(mismatchedAck, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2})

	select {
	case err := <-receiver.Errors():
		t.Fatalf("expected no error for a mismatched ack against a busy slot, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	stats := receiver.Stats()
	require.Zero(t, stats.UnsolicitedAcks)

	receiver.pendingMu.Lock()
	stillPending := receiver.pending
	receiver.pendingMu.Unlock()
	require.NotNil(t, stillPending)
	require.Equal(t, uint16(1), stillPending.packet.MessageID())

	// The real matching ack still wakes the waiter normally.
	matchingAck, err := udpcp.Ack(pendingPacket, false)
	require.NoError(t, err)
	receiver.handleAck(matchingAck, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})

	select {
	case <-ackCh:
	case <-time.After(time.Second):
		t.Fatal("expected the matching ack to close ackCh")
	}
}

func TestSocket_MalformedDatagramSurfacesOnErrorChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)

	raw, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer raw.Close()

	// A buffer shorter than the fixed header: Decode rejects with
	// ErrInvalidHeaderLength, which the worker reports rather than
	// crashing the receive loop (spec §7).
	_, err = raw.WriteToUDP([]byte("short"), receiver.LocalAddr())
	require.NoError(t, err)

	select {
	case err := <-receiver.Errors():
		require.ErrorIs(t, err, udpcp.ErrInvalidHeaderLength)
	case <-time.After(time.Second):
		t.Fatal("expected a decode error on the worker error channel")
	}
}

func TestSocket_LocalAddrReflectsEphemeralPort(t *testing.T) {
	s := newLoopbackSocket(t, DefaultConfig())
	require.NotZero(t, s.LocalAddr().Port)
}

func TestSocket_Fd_TracksDeliveryQueueDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1:0"

	receiver := newLoopbackSocket(t, cfg)
	sender := newLoopbackSocket(t, cfg)

	require.NoError(t, sender.SendTo([]byte("x"), receiver.LocalAddr()))

	deadline := time.Now().Add(time.Second)
	for isReadable(t, receiver.Fd()) == false && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, isReadable(t, receiver.Fd()))

	_, _, err := receiver.ReceiveFrom()
	require.NoError(t, err)
	require.False(t, isReadable(t, receiver.Fd()))
}
