// Package feed fans committed audit events out to live subscribers.
package feed

import (
	"errors"
	"strings"
	"sync"

	"github.com/smallbiznis/agentmarket/internal/audit/domain"
)

// TopicAll receives every event regardless of entity type.
const TopicAll = "*"

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidTopic   = errors.New("invalid_topic")
)

type Hub struct {
	mu               sync.RWMutex
	topics           map[string]*topic
	bufferSize       int
	subscriberBuffer int
}

type topic struct {
	mu     sync.Mutex
	buffer []domain.Event
	subs   map[uint64]chan domain.Event
	nextID uint64
}

type Subscription struct {
	hub   *Hub
	topic string
	id    uint64
	ch    chan domain.Event
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		topics:           make(map[string]*topic),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers event to its entity topic and to TopicAll. Slow
// subscribers drop events rather than block the publisher.
func (h *Hub) Publish(event domain.Event) {
	if h == nil {
		return
	}
	h.publish(TopicAll, event)
	if name := strings.TrimSpace(event.EntityType); name != "" {
		h.publish(name, event)
	}
}

func (h *Hub) publish(name string, event domain.Event) {
	t := h.ensureTopic(name)

	t.mu.Lock()
	t.buffer = append(t.buffer, event)
	if len(t.buffer) > h.bufferSize {
		t.buffer = t.buffer[len(t.buffer)-h.bufferSize:]
	}
	subs := make([]chan domain.Event, 0, len(t.subs))
	for _, ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live subscription plus the recent backlog for the topic.
func (h *Hub) Subscribe(name string) (*Subscription, []domain.Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrInvalidTopic
	}

	t := h.ensureTopic(name)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan domain.Event, h.subscriberBuffer)
	t.subs[id] = ch
	backlog := append([]domain.Event(nil), t.buffer...)
	t.mu.Unlock()

	return &Subscription{
		hub:   h,
		topic: name,
		id:    id,
		ch:    ch,
	}, backlog, nil
}

func (h *Hub) ensureTopic(name string) *topic {
	h.mu.RLock()
	current := h.topics[name]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.topics[name]
	if current == nil {
		current = &topic{subs: make(map[uint64]chan domain.Event)}
		h.topics[name] = current
	}
	return current
}

func (h *Hub) unsubscribe(name string, id uint64) {
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

func (s *Subscription) Events() <-chan domain.Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.topic, s.id)
	})
}
