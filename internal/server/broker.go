package server

import (
	"encoding/json"
	"sync"

	"github.com/playperu/pubhunt/internal/hunt"
)

// message is one encoded event waiting to be written to a stream.
type message struct {
	Type string
	Data []byte
}

// Broker is an in-process pub/sub for view events, keyed by topic. It is the
// hunt.Sink of the companion server.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan message]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan message]struct{}),
	}
}

// Subscribe returns a channel that receives the events published on topic.
func (b *Broker) Subscribe(topic string) chan message {
	ch := make(chan message, 32)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan message]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the topic's subscribers.
func (b *Broker) Unsubscribe(topic string, ch chan message) {
	b.mu.Lock()
	delete(b.subs[topic], ch)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of topic.
func (b *Broker) Publish(topic string, ev hunt.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	msg := message{Type: ev.Type, Data: data}

	b.mu.RLock()
	for ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports how many streams are listening on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
