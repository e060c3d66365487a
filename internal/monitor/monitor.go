// Package monitor exposes a read-only websocket bridge over a UDPCP
// socket's delivery activity, so an operator can watch a running endpoint
// from a browser instead of only through log lines. It is observability
// tooling layered on top of the socket facade (internal/transport/udp);
// it has no effect on C1-C9 semantics.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/transport/udp"
)

const (
	webSocketReadBufferSize  = 4096
	webSocketWriteBufferSize = 4096
	statsInterval            = 5 * time.Second
)

// socket is the subset of *udp.Socket the monitor depends on, so tests can
// supply a fake.
type socket interface {
	Subscribe() (<-chan udp.DeliveryEvent, func())
	Stats() udp.ConnectionStats
}

// Config configures the monitor's HTTP server.
type Config struct {
	// ListenAddress is the bind address for the HTTP server, e.g.
	// ":8088". Server starts a goroutine is not launched if empty.
	ListenAddress string

	// AllowedOrigins restricts the Origin header the websocket upgrader
	// will accept. An empty list allows any origin (suitable for local
	// development only).
	AllowedOrigins []string
}

// wireEvent is one JSON object streamed per delivered message.
type wireEvent struct {
	Type string `json:"type"`
	Peer string `json:"peer,omitempty"`
	Bytes int   `json:"bytes,omitempty"`

	Stats *udp.ConnectionStats `json:"stats,omitempty"`
}

// Server wraps an http.Server bridging a Socket's delivery activity to
// websocket clients. Grounded on the teacher's gorilla/websocket upgrade
// pattern (internal/pkg/handler/connect.go): an Upgrader with a
// CheckOrigin callback, a per-connection goroutine pumping messages until
// the client disconnects.
type Server struct {
	cfg    Config
	sock   socket
	logger *logging.Logger
	http   *http.Server
}

// New constructs a monitor Server for sock. It does not start listening
// until Start is called.
func New(cfg Config, sock *udp.Socket, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{cfg: cfg, sock: sock, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWebsocket)

	s.http = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in the background if ListenAddress is
// configured. It returns immediately; errors from the listener are
// logged, not returned, matching the "ambient, best-effort" nature of
// this observability layer.
func (s *Server) Start() {
	if s.cfg.ListenAddress == "" {
		return
	}

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("monitor: listen %s: %v", s.cfg.ListenAddress, err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return s.isAllowedOrigin(r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("monitor: upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.sock.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			peer := ""
			if ev.Addr != nil {
				peer = ev.Addr.String()
			}
			if err := s.writeJSON(conn, wireEvent{Type: "delivery", Peer: peer, Bytes: ev.Bytes}); err != nil {
				return
			}
		case <-ticker.C:
			stats := s.sock.Stats()
			if err := s.writeJSON(conn, wireEvent{Type: "stats", Stats: &stats}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v wireEvent) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
