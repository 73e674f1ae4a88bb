package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// channelPrefix is the namespace clients may subscribe within.
const channelPrefix = "market:"

// subscribeMsg changes a client's channels, e.g.
// {"action":"subscribe","channels":["market:lot:*"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// subscriptionAck answers every subscribeMsg with the resulting set.
type subscriptionAck struct {
	Channels []string `json:"channels"`
	Rejected []string `json:"rejected,omitempty"`
}

// channelSet holds exact channel names and "prefix*" patterns.
type channelSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func newChannelSet(names ...string) *channelSet {
	s := &channelSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

func (s *channelSet) apply(msg subscribeMsg) subscriptionAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ack subscriptionAck
	for _, ch := range msg.Channels {
		if !strings.HasPrefix(ch, channelPrefix) {
			ack.Rejected = append(ack.Rejected, ch)
			continue
		}
		switch msg.Action {
		case "subscribe":
			s.names[ch] = struct{}{}
		case "unsubscribe":
			delete(s.names, ch)
		default:
			ack.Rejected = append(ack.Rejected, ch)
		}
	}
	for n := range s.names {
		ack.Channels = append(ack.Channels, n)
	}
	slices.Sort(ack.Channels)
	return ack
}

func (s *channelSet) has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

// matchAny reports whether any channel is named exactly or falls under a
// trailing-* pattern.
func (s *channelSet) matchAny(channels []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := s.names[ch]; ok {
			return true
		}
		for n := range s.names {
			if prefix, ok := strings.CutSuffix(n, "*"); ok && strings.HasPrefix(ch, prefix) {
				return true
			}
		}
	}
	return false
}

// client is one websocket connection. send is closed once, under mu, by
// the hub loop.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	subs *channelSet

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: newChannelSet(domain.EventsChannel),
	}
}

// push queues data without blocking and reports whether it fit.
func (c *client) push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.leaves <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Action == "" {
			continue
		}
		ack, err := json.Marshal(envelope{Type: "subscriptions", Payload: c.subs.apply(msg)})
		if err == nil {
			c.push(ack)
		}
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
