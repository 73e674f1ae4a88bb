// Package ws pushes committed market events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/server/middleware"
)

// broadcastBuffer bounds events queued between Record and the hub loop.
const broadcastBuffer = 256

// envelope is the frame pushed to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

// frame is an encoded event and every channel it belongs to.
type frame struct {
	channels []string
	data     []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Origins limits browser upgrades; empty admits any origin.
	Origins []string
}

// Hub fans committed market events out to websocket clients. Events come
// from the Redis bus (market:events) or straight through Record when the
// hub is the local event sink.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mode     string
	started  time.Time

	events chan frame
	joins  chan *client
	leaves chan *client
	done   chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. With a nil bus, events must arrive through Record.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		mode:    strings.ToLower(strings.TrimSpace(cfg.Mode)),
		started: cfg.StartedAt,
		events:  make(chan frame, broadcastBuffer),
		joins:   make(chan *client),
		leaves:  make(chan *client),
		done:    make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
	if h.mode == "" {
		h.mode = "unknown"
	}
	if h.started.IsZero() {
		h.started = time.Now().UTC()
	}
	origins := cfg.Origins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(origins, origin)
		},
	}
	return h
}

// Run owns the client set until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.relay(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			clear(h.clients)
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("clients", n))

		case c := <-h.leaves:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case f := <-h.events:
			h.fanOut(f)
		}
	}
}

func (h *Hub) fanOut(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subs.matchAny(f.channels) && !c.push(f.data) {
			h.logger.Warn("ws: dropping event for slow client")
		}
	}
}

// Record implements domain.EventSink. It never blocks; events are dropped
// when the hub is behind.
func (h *Hub) Record(_ context.Context, events []domain.MarketEvent) {
	for _, ev := range events {
		h.enqueue(ev)
	}
}

// relay forwards market:events from the bus until ctx ends.
func (h *Hub) relay(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		h.logger.Error("ws: subscribe to bus", slog.String("channel", domain.EventsChannel), slog.String("error", err.Error()))
		return
	}
	h.logger.Info("ws: relaying bus", slog.String("channel", domain.EventsChannel))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", domain.EventsChannel))
				return
			}
			var ev domain.MarketEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: malformed event", slog.String("error", err.Error()))
				continue
			}
			h.enqueue(ev)
		}
	}
}

func (h *Hub) enqueue(ev domain.MarketEvent) {
	f := frame{channels: []string{domain.EventsChannel}}
	env := envelope{Type: string(ev.Type), Channel: domain.EventsChannel, Payload: ev}
	if ch := ev.Channel(); ch != "" {
		f.channels = append(f.channels, ch)
		env.Channel = ch
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("ws: encode event", slog.String("error", err.Error()))
		return
	}
	f.data = data
	select {
	case h.events <- f:
	default:
		h.logger.Warn("ws: hub behind, dropping event", slog.String("type", string(ev.Type)))
	}
}

// HandleWS upgrades the request and registers the client. New clients get
// a hub_status frame and then every market event until they narrow their
// subscription.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn)
	c.push(h.status())

	select {
	case h.joins <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) status() []byte {
	data, _ := json.Marshal(envelope{
		Type: "hub_status",
		Payload: map[string]any{
			"mode":           h.mode,
			"uptime_seconds": max(0, int64(time.Since(h.started).Seconds())),
			"channels":       []string{domain.EventsChannel},
		},
	})
	return data
}

var _ domain.EventSink = (*Hub)(nil)
