package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/protocol/udpcp"
)

// deliveredMessage is one reassembled application message waiting on the
// delivery queue, per spec §4.4/§4.6.
type deliveredMessage struct {
	data []byte
	addr *net.UDPAddr
}

// pendingAck is the single-element, single-writer/single-reader slot spec
// §4.3/§5 describes: the sender publishes the packet it is waiting on, the
// receive worker signals ackCh when a matching Ack arrives.
type pendingAck struct {
	packet udpcp.Packet
	addr   *net.UDPAddr
	ackCh  chan struct{}
}

// Socket is the UDPCP socket facade (C9): lifecycle (Open/Close/Shutdown),
// SendTo (C6), and ReceiveFrom, backed by a dedicated receive worker (C7).
// Grounded on the teacher's mutex-guarded Connection struct
// (internal/transport/udp/connection.go in the original tree): a
// sync.RWMutex-guarded struct, a closedOnce sync.Once, a recv channel, and
// a receiveLoop goroutine bounded by SetReadDeadline.
type Socket struct {
	cfg Config

	logger *logging.Logger

	mu     sync.RWMutex
	conn   *net.UDPConn
	opened bool

	closedOnce sync.Once
	shutdownC  chan struct{}
	doneC      chan struct{}

	sendMu sync.Mutex // serializes SendTo callers (spec §9, Q2)

	pendingMu sync.Mutex
	pending   *pendingAck

	reassembly  *udpcp.ReassemblyTable
	idMu        sync.Mutex
	identifiers map[string]*udpcp.IdentifierGenerator

	deliveryMu     sync.Mutex
	deliveryQueue  []deliveredMessage
	deliveryCond   *sync.Cond
	deliveryClosed bool
	wakeup         *wakeupSignal

	errc chan error

	stats ConnectionStats

	subMu sync.Mutex
	subs  map[chan DeliveryEvent]struct{}
}

// DeliveryEvent describes one message handed to the delivery queue,
// published to observers registered through Subscribe. It carries only
// metadata (not the payload) so the monitor bridge can report activity
// without competing with ReceiveFrom for the actual message bytes.
type DeliveryEvent struct {
	Addr  *net.UDPAddr
	Bytes int
}

// Subscribe registers an observer for DeliveryEvents. The returned channel
// is buffered and non-blocking on the publish side: a slow subscriber
// drops events rather than stalling the receive worker. Call the returned
// function to unsubscribe.
func (s *Socket) Subscribe() (<-chan DeliveryEvent, func()) {
	ch := make(chan DeliveryEvent, 32)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Socket) publishEvent(ev DeliveryEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// New constructs a Socket from cfg. The socket is not bound until Open is
// called.
func New(cfg Config, logger *logging.Logger) (*Socket, error) {
	if logger == nil {
		logger = logging.Default()
	}

	wakeup, err := newWakeupSignal()
	if err != nil {
		return nil, err
	}

	s := &Socket{
		cfg:         cfg,
		logger:      logger,
		shutdownC:   make(chan struct{}),
		doneC:       make(chan struct{}),
		reassembly:  udpcp.NewReassemblyTable(),
		identifiers: make(map[string]*udpcp.IdentifierGenerator),
		wakeup:      wakeup,
		errc:        make(chan error, 16),
		subs:        make(map[chan DeliveryEvent]struct{}),
	}
	s.deliveryCond = sync.NewCond(&s.deliveryMu)
	return s, nil
}

// Open binds the UDP socket with SO_REUSEADDR/SO_REUSEPORT per spec §6 and
// starts the receive worker.
func (s *Socket) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", s.cfg.LocalAddress)
	if err != nil {
		return fmt.Errorf("udp: resolve local address %q: %w", s.cfg.LocalAddress, err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					ctrlErr = e
					return
				}
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
					ctrlErr = e
					return
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	packetConn, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return fmt.Errorf("udp: listen %s: %w", addr, err)
	}

	conn, ok := packetConn.(*net.UDPConn)
	if !ok {
		packetConn.Close()
		return fmt.Errorf("udp: unexpected packet conn type %T", packetConn)
	}

	s.conn = conn
	s.opened = true
	s.shutdownC = make(chan struct{})
	s.doneC = make(chan struct{})

	go s.serveForever()

	return nil
}

// Run opens the socket, blocks until ctx is done, then closes it. A
// convenience wrapper matching the reference implementation's
// context-manager lifecycle (`with Socket(...) as sock:`).
func (s *Socket) Run(ctx context.Context) error {
	if err := s.Open(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// LocalAddr returns the bound local address, reflecting the actual
// ephemeral port once Open has run (spec §9, local_address read-back).
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Fd returns the wake-up signal's pollable read-end file descriptor
// (spec §4.5/§6).
func (s *Socket) Fd() int {
	return s.wakeup.fd()
}

// Stats returns a snapshot of the socket's activity counters.
func (s *Socket) Stats() ConnectionStats {
	return s.stats.Snapshot()
}

// Errors returns a channel of worker-thread errors (invalid inbound
// packets, unsolicited acks) for callers that want to observe them rather
// than have them silently logged and dropped (spec §7's "a robust port
// should surface these through an observable channel"). The channel is
// buffered; errors are dropped (and still logged) if the buffer is full.
func (s *Socket) Errors() <-chan error {
	return s.errc
}

func (s *Socket) reportError(err error) {
	s.logger.Error("%v", err)
	select {
	case s.errc <- err:
	default:
	}
}

// Shutdown requests the receive worker to stop and blocks until it has
// acknowledged (spec §4.6/§5).
func (s *Socket) Shutdown() {
	if !s.isOpen() {
		return
	}
	s.closedOnce.Do(func() {
		close(s.shutdownC)
	})
	<-s.doneC
}

// Close shuts down the worker, closes the socket, and releases the
// wake-up signal. Safe to call multiple times.
func (s *Socket) Close() error {
	s.Shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	s.deliveryMu.Lock()
	s.deliveryClosed = true
	s.deliveryCond.Broadcast()
	s.deliveryMu.Unlock()

	err := s.conn.Close()
	if wErr := s.wakeup.close(); wErr != nil && err == nil {
		err = wErr
	}
	return err
}

// isOpen reports whether the socket has been opened and not yet closed.
func (s *Socket) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened
}

func (s *Socket) identifierFor(addr *net.UDPAddr) *udpcp.IdentifierGenerator {
	key := addr.String()

	s.idMu.Lock()
	defer s.idMu.Unlock()

	gen, ok := s.identifiers[key]
	if !ok {
		gen = udpcp.NewIdentifierGenerator()
		s.identifiers[key] = gen
	}
	return gen
}
