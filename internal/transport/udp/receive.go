package udp

import (
	"errors"
	"net"
	"time"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// serveForever is the receive worker body (C7), run on its own goroutine
// by Open. It blocks in ReadFromUDP bounded by PollInterval so it can
// observe the shutdown signal, decodes each datagram, classifies it, and
// dispatches per spec §4.4. Grounded on the teacher's receiveLoop
// (SetReadDeadline-bounded ReadFromUDP in a loop checking a shutdown
// channel).
func (s *Socket) serveForever() {
	defer close(s.doneC)

	buf := make([]byte, MTU)

	for {
		select {
		case <-s.shutdownC:
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			s.reportError(err)
			return
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdownC:
				return
			default:
			}
			s.reportError(err)
			continue
		}

		s.stats.addPacketReceived(n)

		packet, err := udpcp.Decode(buf[:n])
		if err != nil {
			s.reportError(err)
			continue
		}

		s.dispatch(packet, addr)
	}
}

// dispatch classifies an inbound packet and runs the corresponding
// handler, strictly single-threaded on the receive worker (spec §5).
func (s *Socket) dispatch(packet udpcp.Packet, addr *net.UDPAddr) {
	switch packet.Type() {
	case udpcp.PacketTypeAck:
		s.handleAck(packet, addr)
	case udpcp.PacketTypeSync:
		s.handleSync(packet, addr)
	case udpcp.PacketTypeData:
		s.handleData(packet, addr)
	default:
		s.stats.incInvalidPacket()
		s.reportError(&InvalidPacketError{Packet: packet, Addr: addr})
	}
}

// handleAck wakes the sender if the ack matches the pending-ack slot. An ack
// arriving while the slot is empty is unsolicited and reported; an ack that
// simply doesn't match a busy slot (stale retransmit, wrong peer) is
// silently ignored, matching the ground truth's `_process_ack` (spec §4.4).
func (s *Socket) handleAck(packet udpcp.Packet, addr *net.UDPAddr) {
	s.stats.incAckReceived()

	s.pendingMu.Lock()
	pending := s.pending
	if pending == nil {
		s.pendingMu.Unlock()
		s.stats.incUnsolicitedAck()
		s.reportError(&UnsolicitedAckError{Packet: packet, Addr: addr})
		return
	}

	matches := packet.IsAckFor(pending.packet) && addrEqual(addr, pending.addr)
	if matches {
		s.pending = nil
	}
	s.pendingMu.Unlock()

	if !matches {
		return
	}

	close(pending.ackCh)
}

// handleSync immediately acks the sync probe; no other state changes
// (spec §4.4).
func (s *Socket) handleSync(packet udpcp.Packet, addr *net.UDPAddr) {
	ack, err := udpcp.Ack(packet, false)
	if err != nil {
		s.reportError(err)
		return
	}
	s.transmitAck(ack, addr)
}

// handleData acks the fragment, appends its payload to the peer's
// reassembly entry, and delivers the completed message (plus wake-up
// notification) once the fragment count is reached (spec §4.4).
func (s *Socket) handleData(packet udpcp.Packet, addr *net.UDPAddr) {
	ack, err := udpcp.Ack(packet, packet.IsDuplicate())
	if err != nil {
		s.reportError(err)
		return
	}
	s.transmitAck(ack, addr)

	message, complete := s.reassembly.Append(addr.String(), packet.FragmentAmount(), packet.Payload())
	if !complete {
		return
	}

	s.stats.incMessageDelivered()
	s.logger.Packet(logging.LevelDebug, addr.String(), "delivered message_id=%d (%d bytes, %d fragments)",
		packet.MessageID(), len(message), packet.FragmentAmount())

	s.deliveryMu.Lock()
	s.deliveryQueue = append(s.deliveryQueue, deliveredMessage{data: message, addr: addr})
	notifyErr := s.wakeup.notifyWrite()
	s.deliveryCond.Signal()
	s.deliveryMu.Unlock()

	if notifyErr != nil {
		s.reportError(notifyErr)
	}

	s.publishEvent(DeliveryEvent{Addr: addr, Bytes: len(message)})
}

// transmitAck serializes and writes an ack packet to addr, without
// waiting for a reply. Used for the unconditional acks the worker sends
// back to Sync and Data senders.
func (s *Socket) transmitAck(packet udpcp.Packet, addr *net.UDPAddr) {
	s.transmit(packet, addr)
	s.stats.incAckSent()
}

// transmit serializes and writes packet to addr, without waiting for any
// reply. Shared by the worker's acks and the send engine's data/sync
// fragments.
func (s *Socket) transmit(packet udpcp.Packet, addr *net.UDPAddr) {
	data := packet.Bytes()
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.reportError(err)
		return
	}
	s.stats.addPacketSent(len(data))
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
}
