// Package pubsub fans daemon events out to subscribed connections. Every
// subscriber owns a bounded queue; a full queue drops its oldest message so
// publishers never wait on a slow reader.
package pubsub

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/feeluown/fuocore/internal/core"
)

// Topics published by the daemon.
const (
	TopicSongChanged  = "player.song_changed"
	TopicPosition     = "player.position"
	TopicLiveLyric    = "live_lyric"
	TopicStateChanged = "player.state_changed"
	TopicModeChanged  = "playlist.mode_changed"
	TopicPlayerError  = "player.error"
)

// Topics lists every known topic in a stable order.
var Topics = []string{
	TopicSongChanged,
	TopicPosition,
	TopicLiveLyric,
	TopicStateChanged,
	TopicModeChanged,
	TopicPlayerError,
}

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 64

// ErrClosed is returned by Next once the subscriber was removed.
var ErrClosed = errors.New("subscriber closed")

// Message is one published payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker routes published messages to subscribers.
type Broker struct {
	queueSize int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// New creates a broker. A queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{queueSize: queueSize, subscribers: map[string]*Subscriber{}}
}

// KnownTopic reports whether topic can be subscribed to.
func KnownTopic(topic string) bool {
	return slices.Contains(Topics, topic)
}

// NewSubscriber registers a subscriber with no topics.
func (b *Broker) NewSubscriber(id string) *Subscriber {
	s := &Subscriber{
		id:      id,
		queue:   make([]Message, b.queueSize),
		topics:  map[string]bool{},
		dropped: map[string]int{},
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[id] = s
	b.mu.Unlock()
	return s
}

// Remove unregisters the subscriber and wakes its reader.
func (b *Broker) Remove(s *Subscriber) {
	b.mu.Lock()
	if b.subscribers[s.id] == s {
		delete(b.subscribers, s.id)
	}
	b.mu.Unlock()
	s.close()
}

// Publish enqueues payload for every subscriber of topic. It never blocks.
func (b *Broker) Publish(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		s.push(Message{Topic: topic, Payload: payload})
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Subscriber is one connection's view of the broker.
type Subscriber struct {
	id string

	mu      sync.Mutex
	topics  map[string]bool
	queue   []Message
	head    int
	size    int
	dropped map[string]int
	done    bool

	notify chan struct{}
	closed chan struct{}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string { return s.id }

// Subscribe adds topic. Unknown topics fail with NotFound.
func (s *Subscriber) Subscribe(topic string) error {
	if !KnownTopic(topic) {
		return core.Errorf(core.KindNotFound, "no such topic: %s", topic)
	}
	s.mu.Lock()
	s.topics[topic] = true
	s.mu.Unlock()
	return nil
}

// Unsubscribe removes topic and discards its queued messages.
func (s *Subscriber) Unsubscribe(topic string) error {
	if !KnownTopic(topic) {
		return core.Errorf(core.KindNotFound, "no such topic: %s", topic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	kept := make([]Message, 0, s.size)
	for i := 0; i < s.size; i++ {
		m := s.queue[(s.head+i)%len(s.queue)]
		if m.Topic != topic {
			kept = append(kept, m)
		}
	}
	s.head = 0
	s.size = copy(s.queue, kept)
	return nil
}

// Topics returns the subscribed topics.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for _, t := range Topics {
		if s.topics[t] {
			out = append(out, t)
		}
	}
	return out
}

// Dropped returns how many messages of topic were discarded on overflow.
func (s *Subscriber) Dropped(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[topic]
}

// Len returns the number of queued messages.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Subscriber) push(m Message) {
	s.mu.Lock()
	if s.done || !s.topics[m.Topic] {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.queue) {
		oldest := s.queue[s.head]
		s.dropped[oldest.Topic]++
		s.head = (s.head + 1) % len(s.queue)
		s.size--
	}
	s.queue[(s.head+s.size)%len(s.queue)] = m
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) pop() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return Message{}, false
	}
	m := s.queue[s.head]
	s.queue[s.head] = Message{}
	s.head = (s.head + 1) % len(s.queue)
	s.size--
	return m, true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.closed)
}

// Next blocks until a message is queued, ctx is done or the subscriber is
// removed.
func (s *Subscriber) Next(ctx context.Context) (Message, error) {
	for {
		if m, ok := s.pop(); ok {
			return m, nil
		}
		select {
		case <-s.notify:
		case <-s.closed:
			return Message{}, ErrClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}
