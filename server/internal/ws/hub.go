package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/server/internal/api"
	"github.com/defecttrend/defecttrend/server/internal/config"
	"github.com/defecttrend/defecttrend/server/internal/store"
)

// Connection keepalive settings. pingEvery stays below readIdle so a healthy
// client always answers a ping before its read deadline passes.
const (
	writeWait   = 10 * time.Second
	readIdle    = time.Minute
	pingEvery   = 54 * time.Second
	queueDepth  = 16
	maxReadSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true }, // CORS is the proxy's job
}

// Event names.
const (
	EventHello = "hello"
	EventTrend = "trend"
)

// Message is the JSON envelope sent to clients. A hello message carries the
// job list; a trend message carries one job's chart.
type Message struct {
	Event string             `json:"event"`
	Job   string             `json:"job,omitempty"`
	Jobs  []string           `json:"jobs,omitempty"`
	Data  *api.TrendResponse `json:"data,omitempty"`
}

// Hub manages WebSocket client connections. It pushes a job's trend to every
// client each time a build is recorded, and all trends again whenever the
// analysis settings change.
type Hub struct {
	store    *store.Store
	settings *config.Holder
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub reading from st. interval controls how often settings
// are checked for a reload.
func New(st *store.Store, settings *config.Holder, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		settings: settings,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run watches for settings reloads and re-broadcasts every job's trend when
// one happens. Run blocks until ctx is cancelled, then closes all active
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	seen := h.settings.Updated()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if u := h.settings.Updated(); u.After(seen) {
				seen = u
				for _, e := range h.store.Jobs() {
					h.Notify(e.Job, e.Head)
				}
			}
		}
	}
}

// Notify broadcasts job's trend to all clients. Its signature matches
// store.Listener.
func (h *Hub) Notify(job string, head *types.HistoryNode) {
	data, err := h.trendMessage(job, head)
	if err != nil {
		slog.Warn("ws: trend not broadcast", "job", job, "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends a hello and the current trend of every job on connect, then
// streams updates. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, queueDepth),
	}
	h.register(c)
	defer h.unregister(c)

	// Sole writer until the pump starts.
	for _, msg := range h.initialMessages() {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			conn.Close()
			return
		}
	}

	go c.pump()
	c.drain()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues data for every client. Sends happen under the read lock
// so unregister and closeAll cannot close a queue mid-send; clients whose
// queue is full are dropped afterwards.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) initialMessages() [][]byte {
	entries := h.store.Jobs()
	hello := Message{Event: EventHello, Jobs: make([]string, 0, len(entries))}
	for _, e := range entries {
		hello.Jobs = append(hello.Jobs, e.Job)
	}
	first, err := json.Marshal(hello)
	if err != nil {
		return nil
	}

	out := [][]byte{first}
	for _, e := range entries {
		data, err := h.trendMessage(e.Job, e.Head)
		if err != nil {
			slog.Warn("ws: trend not sent", "job", e.Job, "err", err)
			continue
		}
		out = append(out, data)
	}
	return out
}

func (h *Hub) trendMessage(job string, head *types.HistoryNode) ([]byte, error) {
	tr, err := api.BuildTrend(h.settings.Analysis(), job, head)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventTrend, Job: job, Data: &tr})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (c *client) write(kind int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return c.conn.WriteMessage(kind, payload)
}

// pump forwards queued messages and keepalive pings to the connection until
// the queue is closed or a write fails.
func (c *client) pump() {
	keepalive := time.NewTicker(pingEvery)
	defer keepalive.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, open := <-c.send:
			if !open {
				c.write(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-keepalive.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

// drain discards inbound frames so pongs and close frames get processed.
// It returns once the peer goes away or stops answering pings.
func (c *client) drain() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxReadSize)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readIdle))
	}
	extend("") //nolint:errcheck
	c.conn.SetPongHandler(extend)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
