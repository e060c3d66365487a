package monitor

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-rdp/internal/logging"
	"github.com/rcarmo/go-rdp/internal/transport/udp"
)

type fakeSocket struct {
	subs  []chan udp.DeliveryEvent
	stats udp.ConnectionStats
}

func (f *fakeSocket) Subscribe() (<-chan udp.DeliveryEvent, func()) {
	ch := make(chan udp.DeliveryEvent, 8)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeSocket) Stats() udp.ConnectionStats {
	return f.stats
}

func (f *fakeSocket) emit(ev udp.DeliveryEvent) {
	for _, ch := range f.subs {
		ch <- ev
	}
}

func newTestServer(t *testing.T, sock socket) (*Server, *httptest.Server) {
	t.Helper()

	s := &Server{cfg: Config{}, sock: sock, logger: logging.Default()}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWebsocket)

	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)
	return s, httpServer
}

func TestMonitor_Healthz(t *testing.T) {
	_, httpServer := newTestServer(t, &fakeSocket{})

	resp, err := http.Get(httpServer.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMonitor_StreamsDeliveryEvents(t *testing.T) {
	fake := &fakeSocket{}
	_, httpServer := newTestServer(t, fake)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(20 * time.Millisecond)
	fake.emit(udp.DeliveryEvent{Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}, Bytes: 42})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "delivery", ev.Type)
	require.Equal(t, 42, ev.Bytes)
	require.Contains(t, ev.Peer, "127.0.0.1")
}

func TestMonitor_RejectsDisallowedOrigin(t *testing.T) {
	fake := &fakeSocket{}
	s := &Server{cfg: Config{AllowedOrigins: []string{"https://ok.example"}}, sock: fake, logger: logging.Default()}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	httpServer := httptest.NewServer(mux)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
