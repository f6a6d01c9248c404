// Package testutil holds the in-memory fakes shared by paneld tests: a
// recording subscriber and a recording event hub.
package testutil

import (
	"sync"

	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/domain/ports"
)

// MockSubscriber records every event it is sent. A send error can be
// injected to exercise hub eviction paths.
type MockSubscriber struct {
	id   string
	done chan struct{}

	mu       sync.Mutex
	received []events.Event
	failWith error
	closed   bool
}

var _ ports.Subscriber = (*MockSubscriber)(nil)

// NewMockSubscriber creates a recording subscriber with the given id.
func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{id: id, done: make(chan struct{})}
}

func (m *MockSubscriber) ID() string { return m.id }

func (m *MockSubscriber) Send(e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.received = append(m.received, e)
	return nil
}

func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MockSubscriber) Done() <-chan struct{} { return m.done }

// SetSendError makes every following Send fail with err.
func (m *MockSubscriber) SetSendError(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Events returns a copy of everything received so far.
func (m *MockSubscriber) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Event, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockSubscriber) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *MockSubscriber) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockEventHub collects published events synchronously, so tests can
// assert on them without racing a fan-out goroutine.
type MockEventHub struct {
	mu          sync.Mutex
	published   []events.Event
	subscribers map[string]ports.Subscriber
}

var _ ports.EventHub = (*MockEventHub)(nil)

// NewMockEventHub creates a recording event hub.
func NewMockEventHub() *MockEventHub {
	return &MockEventHub{subscribers: make(map[string]ports.Subscriber)}
}

func (m *MockEventHub) Start() error { return nil }

func (m *MockEventHub) Stop() error { return nil }

func (m *MockEventHub) Publish(e events.Event) {
	m.mu.Lock()
	m.published = append(m.published, e)
	m.mu.Unlock()
}

func (m *MockEventHub) Subscribe(sub ports.Subscriber) {
	m.mu.Lock()
	m.subscribers[sub.ID()] = sub
	m.mu.Unlock()
}

func (m *MockEventHub) Unsubscribe(id string) {
	m.mu.Lock()
	delete(m.subscribers, id)
	m.mu.Unlock()
}

func (m *MockEventHub) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// PublishedEvents returns a copy of every published event, in order.
func (m *MockEventHub) PublishedEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Event, len(m.published))
	copy(out, m.published)
	return out
}

// EventsOfType returns the published events of one type, in publish
// order.
func (m *MockEventHub) EventsOfType(t events.EventType) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.published {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
