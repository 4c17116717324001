package bus

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/minhvt/candlecast/model/candle"
)

// Memory is an in-process broadcast bus. Every published message is
// fanned out to all subscriber channels; a subscriber whose buffer is
// full is dropped so one slow consumer cannot stall the pipeline.
type Memory struct {
	mu   sync.RWMutex
	subs map[int64]chan Message
	seq  atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[int64]chan Message)}
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	msg := Message{Topic: topic, Payload: payload}

	var lagging []int64
	m.mu.RLock()
	for id, ch := range m.subs {
		select {
		case ch <- msg:
		default:
			lagging = append(lagging, id)
		}
	}
	m.mu.RUnlock()

	if len(lagging) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, id := range lagging {
		if ch, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
			log.Warnf("memory bus: dropped lagging subscriber %d (channel full)", id)
		}
	}
	m.mu.Unlock()
	return nil
}

// Listen registers a subscriber receiving every published message.
// The returned cancel func removes the subscription and closes the
// channel.
func (m *Memory) Listen() (<-chan Message, func()) {
	id := m.seq.Add(1)
	ch := make(chan Message, 128)

	m.mu.Lock()
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if got, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(got)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// MemoryLog is an in-process durable-log stand-in used in tests and
// redis-less dev runs. Entries are kept per (symbol, interval) in
// append order.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string][][]byte
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][][]byte)}
}

func (l *MemoryLog) Append(_ context.Context, symbol string, iv candle.Interval, payload []byte) error {
	key := symbol + ":" + string(iv)
	cp := make([]byte, len(payload))
	copy(cp, payload)

	l.mu.Lock()
	l.entries[key] = append(l.entries[key], cp)
	l.mu.Unlock()
	return nil
}

// Entries returns the appended payloads for one pair, oldest first.
func (l *MemoryLog) Entries(symbol string, iv candle.Interval) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.entries[symbol+":"+string(iv)]...)
}
