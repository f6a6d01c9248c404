package websocket

import (
	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/domain/events"
)

// clientSubscriber adapts a Client to the hub's Subscriber interface.
// Serialization happens here, once per subscriber, before the bytes hit
// the client's buffered send queue.
type clientSubscriber struct {
	client *Client
}

func newClientSubscriber(c *Client) *clientSubscriber {
	return &clientSubscriber{client: c}
}

func (s *clientSubscriber) ID() string { return s.client.ID() }

// Send serializes the event and queues it. A closed client reports
// ErrSubscriberClosed so the hub drops the subscription.
func (s *clientSubscriber) Send(event events.Event) error {
	s.client.mu.Lock()
	closed := s.client.closed
	s.client.mu.Unlock()
	if closed {
		return domain.ErrSubscriberClosed
	}

	data, err := event.ToJSON()
	if err != nil {
		return err
	}
	s.client.Send(data)
	return nil
}

func (s *clientSubscriber) Close() error {
	s.client.Close()
	return nil
}

func (s *clientSubscriber) Done() <-chan struct{} { return s.client.done }
