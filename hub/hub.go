// Package hub fans broadcast-bus messages out to connected client
// sessions according to per-session topic subscriptions.
package hub

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/minhvt/candlecast/model/candle"
)

// Session is one connected client. Send must be safe for concurrent
// use; a Send error means this delivery failed, not that the hub is
// broken.
type Session interface {
	ID() string
	Send(payload []byte) error
}

// Hub owns the session registry. Connect, subscribe and disconnect
// events mutate it concurrently with Forward calls; fan-out iterates a
// snapshot so a session disconnecting mid-delivery is tolerated.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]Session
	topics   map[string]map[string]struct{} // session id -> topic set
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]Session),
		topics:   make(map[string]map[string]struct{}),
	}
}

// Connect registers a session with an empty topic set.
func (h *Hub) Connect(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.topics[s.ID()] = make(map[string]struct{})
	h.mu.Unlock()
	log.Debugf("session %s connected", s.ID())
}

// Disconnect removes the session and its topic set entirely.
func (h *Hub) Disconnect(s Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	delete(h.topics, s.ID())
	h.mu.Unlock()
	log.Debugf("session %s disconnected", s.ID())
}

// Subscribe adds the pair's topic to the session's set. Unknown
// sessions are ignored.
func (h *Hub) Subscribe(s Session, symbol, interval string) {
	topic := candle.Topic(symbol, candle.Interval(interval))
	h.mu.Lock()
	if set, ok := h.topics[s.ID()]; ok {
		set[topic] = struct{}{}
	}
	h.mu.Unlock()
}

// HandleMessage processes one inbound client message. Only SUBSCRIBE
// is understood; any other shape is ignored without an error to the
// sender.
func (h *Hub) HandleMessage(s Session, msg []byte) {
	if gjson.GetBytes(msg, "type").String() != "SUBSCRIBE" {
		return
	}
	symbol := gjson.GetBytes(msg, "symbol").String()
	interval := gjson.GetBytes(msg, "interval").String()
	if symbol == "" || interval == "" {
		return
	}
	h.Subscribe(s, symbol, interval)
}

// Forward delivers a payload verbatim to every session subscribed to
// topic. A failed delivery is logged and never blocks the remaining
// sessions.
func (h *Hub) Forward(topic string, payload []byte) {
	h.mu.RLock()
	targets := make([]Session, 0, len(h.sessions))
	for id, set := range h.topics {
		if _, ok := set[topic]; !ok {
			continue
		}
		if s, ok := h.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			log.WithError(err).Warnf("delivery to session %s failed", s.ID())
		}
	}
}

// Sessions reports how many sessions are connected.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Subscribers reports how many sessions are subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.topics {
		if _, ok := set[topic]; ok {
			n++
		}
	}
	return n
}
