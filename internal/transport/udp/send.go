package udp

import (
	"net"
	"time"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// SendTo fragments data into MTU-sized chunks, transmits them in ascending
// fragment order, and drives the per-fragment ack wait for any fragment
// whose transfer mode requires one (spec §4.3). Concurrent callers are
// serialized behind sendMu, since the core supports only one outstanding
// ack-bearing packet at a time (spec §9, Q2).
func (s *Socket) SendTo(data []byte, addr *net.UDPAddr) error {
	if !s.isOpen() {
		return ErrClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	messageID := s.identifierFor(addr).Next()

	fragments := fragment(data)

	for i, payload := range fragments {
		packet, err := udpcp.Data(s.cfg.TransferMode, s.cfg.ChecksumMode, uint8(len(fragments)), uint8(i), messageID, payload)
		if err != nil {
			return err
		}

		if !packet.IsAckNeeded() {
			s.transmit(packet, addr)
			continue
		}

		if err := s.sendWithAck(packet, addr); err != nil {
			return err
		}
	}

	s.stats.incMessageSent()
	return nil
}

// fragment splits data into MTU-sized slices. A zero-length message
// yields exactly one empty fragment (spec §9, Q1): the reassembly table's
// "complete when accumulated chunks equal fragment_amount" invariant
// already handles a single empty chunk correctly, so treating a 0-byte
// send as a 1-fragment message avoids introducing a new error kind that
// isn't in §7's taxonomy.
func fragment(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}

	amount := (len(data) + MTU - 1) / MTU
	fragments := make([][]byte, 0, amount)
	for i := 0; i < amount; i++ {
		start := i * MTU
		end := start + MTU
		if end > len(data) {
			end = len(data)
		}
		fragments = append(fragments, data[start:end])
	}
	return fragments
}

// sendWithAck publishes packet as the pending-ack slot, transmits it, and
// waits up to RetransmissionTimeout for a matching ack, retrying up to
// RetransmissionAttempts times before failing with AckFailureError (spec
// §4.3, P6).
func (s *Socket) sendWithAck(packet udpcp.Packet, addr *net.UDPAddr) error {
	for attempt := 1; attempt <= s.cfg.RetransmissionAttempts; attempt++ {
		ackCh := make(chan struct{})

		s.pendingMu.Lock()
		s.pending = &pendingAck{packet: packet, addr: addr, ackCh: ackCh}
		s.pendingMu.Unlock()

		s.transmit(packet, addr)
		if attempt > 1 {
			s.stats.incRetransmit()
			s.logger.Packet(logging.LevelWarn, addr.String(), "retransmit message_id=%d fragment=%d/%d attempt=%d/%d",
				packet.MessageID(), packet.FragmentNumber(), packet.FragmentAmount(), attempt, s.cfg.RetransmissionAttempts)
		}

		timer := time.NewTimer(s.cfg.RetransmissionTimeout)
		select {
		case <-ackCh:
			timer.Stop()
			return nil
		case <-timer.C:
			s.pendingMu.Lock()
			if s.pending != nil && s.pending.ackCh == ackCh {
				s.pending = nil
			}
			s.pendingMu.Unlock()
		}
	}

	return &AckFailureError{
		MessageID:      packet.MessageID(),
		FragmentNumber: packet.FragmentNumber(),
		FragmentAmount: packet.FragmentAmount(),
		Attempts:       s.cfg.RetransmissionAttempts,
	}
}

// ReceiveFrom blocks until a complete message is available on the
// delivery queue, then returns it and notifies the wake-up signal of the
// dequeue (spec §4.6). Returns ErrClosed if the socket is closed while
// waiting.
func (s *Socket) ReceiveFrom() ([]byte, *net.UDPAddr, error) {
	s.deliveryMu.Lock()
	for len(s.deliveryQueue) == 0 && !s.deliveryClosed {
		s.deliveryCond.Wait()
	}
	if len(s.deliveryQueue) == 0 {
		s.deliveryMu.Unlock()
		return nil, nil, ErrClosed
	}
	msg := s.deliveryQueue[0]
	s.deliveryQueue = s.deliveryQueue[1:]
	s.deliveryMu.Unlock()

	if err := s.wakeup.notifyRead(); err != nil {
		s.reportError(err)
	}

	return msg.data, msg.addr, nil
}
