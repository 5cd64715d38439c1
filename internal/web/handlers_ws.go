package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"zigbee-go-gp/internal/host"
)

const (
	wsSendBuffer   = 64
	wsBroadcastLen = 256
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4096
)

// wsMessage is the envelope for messages that are not bus events.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsRequest is what a client may send:
//
//	{"type":"subscribe","events":["gp_command"],"gpd":"0x0000ABCD"}
//	{"type":"get_state"}
type wsRequest struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
	GPD    string   `json:"gpd,omitempty"`
}

// wsFilter narrows the events a client receives. Events that carry no GPD
// id pass the gpd filter.
type wsFilter struct {
	Events []string `json:"events"`
	GPD    string   `json:"gpd,omitempty"`
}

func (f *wsFilter) accepts(o *outbound) bool {
	if f == nil || o.eventType == "" {
		return true
	}
	if len(f.Events) > 0 {
		found := false
		for _, e := range f.Events {
			if e == o.eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return f.GPD == "" || o.gpd == "" || normalizeGPD(f.GPD) == normalizeGPD(o.gpd)
}

func normalizeGPD(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimLeft(strings.TrimPrefix(s, "0x"), "0")
}

// outbound is a broadcast encoded once for all clients.
type outbound struct {
	eventType string
	gpd       string
	data      []byte
}

type direct struct {
	client *wsClient
	data   []byte
}

// WSHub fans host events out to WebSocket clients, honouring each
// client's subscription.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan any
	reply      chan direct

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter atomic.Pointer[wsFilter]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan any, wsBroadcastLen),
		reply:      make(chan direct, wsSendBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Only Run closes client send channels.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case d := <-h.reply:
			h.mu.Lock()
			if _, ok := h.clients[d.client]; ok {
				select {
				case d.client.send <- d.data:
				default:
					h.drop(d.client)
					h.logger.Warn("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			out, err := encodeOutbound(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.filter.Load().accepts(out) {
					continue
				}
				select {
				case client.send <- out.data:
				default:
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				h.drop(client)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a registered client. h.mu must be held.
func (h *WSHub) drop(client *wsClient) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func encodeOutbound(msg any) (*outbound, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	out := &outbound{data: data}
	if ev, ok := msg.(host.Event); ok {
		out.eventType = ev.Type
		out.gpd, _ = ev.Data["gpd"].(string)
	}
	return out, nil
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client without blocking.
func (h *WSHub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// sendTo queues msg for one client without blocking.
func (h *WSHub) sendTo(client *wsClient, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal", "err", err)
		return
	}
	select {
	case h.reply <- direct{client: client, data: data}:
	case <-h.done:
	default:
		h.logger.Warn("ws reply queue full, dropping message")
	}
}

// handleWS upgrades the connection. The first message a client receives
// is the current GP state; bus events follow.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	if data, err := json.Marshal(s.stateMessage(r.Context())); err == nil {
		client.send <- data
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) stateMessage(ctx context.Context) wsMessage {
	st, err := s.ctrl.State(ctx)
	if err != nil {
		return wsMessage{Type: "error", Data: err.Error()}
	}
	return wsMessage{Type: "gp_state", Data: st}
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.handleWSRequest(ctx, client, data)
	}
}

func (s *Server) handleWSRequest(ctx context.Context, client *wsClient, data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.wsHub.sendTo(client, wsMessage{Type: "error", Data: "invalid JSON"})
		return
	}
	switch req.Type {
	case "subscribe":
		f := &wsFilter{Events: nonNil(req.Events), GPD: req.GPD}
		if len(f.Events) == 0 && f.GPD == "" {
			f = nil
		}
		client.filter.Store(f)
		s.wsHub.sendTo(client, wsMessage{Type: "subscribed", Data: f})
	case "get_state":
		s.wsHub.sendTo(client, s.stateMessage(ctx))
	default:
		s.wsHub.sendTo(client, wsMessage{Type: "error", Data: "unknown request " + req.Type})
	}
}
