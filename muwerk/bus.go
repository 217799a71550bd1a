/*
	Package muwerk provides the cooperative task scheduler and the
	publish/subscribe message bus that sensor drivers attach to.

	All subscriber callbacks run on the scheduler goroutine. Publishing is
	safe from any goroutine: messages are queued and dispatched on the next
	scheduler pass, so driver state is only ever touched single-threaded.
*/

package muwerk

import (
	"strings"
	"sync"
)

// Message is one bus datagram. Payloads are strings, formatted by the sender.
type Message struct {
	Topic string
	Msg   string
}

type subscription struct {
	id      int
	pattern string
	fn      func(topic, msg string)
}

// Bus is an MQTT-style topic bus. Patterns support the usual '+' (one level)
// and '#' (remainder) wildcards.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	queue  []Message
	nextID int
}

func NewBus() *Bus {
	return &Bus{nextID: 1}
}

// Subscribe registers fn for all topics matching pattern and returns a
// handle for Unsubscribe.
func (b *Bus) Subscribe(pattern string, fn func(topic, msg string)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, fn: fn})
	return id
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish queues a message for dispatch. Never blocks.
func (b *Bus) Publish(topic, msg string) {
	b.mu.Lock()
	b.queue = append(b.queue, Message{Topic: topic, Msg: msg})
	b.mu.Unlock()
}

// Process dispatches all queued messages, including any published by the
// subscriber callbacks themselves. Called by the scheduler between task
// passes; tests call it directly.
func (b *Bus) Process() int {
	n := 0
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return n
		}
		m := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			if TopicMatch(s.pattern, m.Topic) {
				s.fn(m.Topic, m.Msg)
			}
		}
		n++
	}
}

// TopicMatch reports whether topic matches an MQTT-style pattern.
func TopicMatch(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
