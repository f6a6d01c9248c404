package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/testutil"
)

// startedHub returns a running hub that is stopped on test cleanup.
func startedHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

// eventually polls cond until it holds or the deadline passes. Delivery
// runs on the fan-out goroutine, so assertions on received events need
// a small wait.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHub_New(t *testing.T) {
	h := New()

	if h.subscribers == nil {
		t.Error("subscribers map is nil")
	}
	if h.broadcast == nil {
		t.Error("broadcast channel is nil")
	}
	if h.done == nil {
		t.Error("done channel is nil")
	}
	if h.IsRunning() {
		t.Error("new hub reports running")
	}
}

func TestHub_StartStopIdempotent(t *testing.T) {
	h := New()

	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !h.IsRunning() {
		t.Error("hub not running after Start()")
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if h.IsRunning() {
		t.Error("hub still running after Stop()")
	}
}

func TestHub_SubscribeOnlyWhileRunning(t *testing.T) {
	h := New()
	h.Subscribe(testutil.NewMockSubscriber("early"))
	if got := h.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() before Start = %d, want 0", got)
	}

	_ = h.Start()
	defer func() { _ = h.Stop() }()

	h.Subscribe(testutil.NewMockSubscriber("late"))
	if got := h.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() after Start = %d, want 1", got)
	}
}

func TestHub_UnsubscribeClosesSubscriber(t *testing.T) {
	h := startedHub(t)

	sub := testutil.NewMockSubscriber("sub-1")
	h.Subscribe(sub)
	h.Unsubscribe("sub-1")

	if got := h.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
	if !sub.IsClosed() {
		t.Error("subscriber not closed on unsubscribe")
	}
}

func TestHub_PublishDelivers(t *testing.T) {
	h := startedHub(t)

	sub := testutil.NewMockSubscriber("sub-1")
	h.Subscribe(sub)

	h.Publish(events.NewEvent(events.EventTypeHeartbeat, map[string]string{"k": "v"}))

	eventually(t, func() bool { return sub.EventCount() == 1 }, "event never delivered")

	if got := sub.Events()[0].Type(); got != events.EventTypeHeartbeat {
		t.Errorf("delivered event type = %v, want %v", got, events.EventTypeHeartbeat)
	}
}

func TestHub_PublishFansOut(t *testing.T) {
	h := startedHub(t)

	subs := []*testutil.MockSubscriber{
		testutil.NewMockSubscriber("a"),
		testutil.NewMockSubscriber("b"),
		testutil.NewMockSubscriber("c"),
	}
	for _, sub := range subs {
		h.Subscribe(sub)
	}

	for i := 0; i < 5; i++ {
		h.Publish(events.NewEvent(events.EventTypeSessionOutput, map[string]int{"seq": i}))
	}

	for _, sub := range subs {
		sub := sub
		eventually(t, func() bool { return sub.EventCount() == 5 },
			fmt.Sprintf("subscriber %s incomplete after fan-out", sub.ID()))
	}
}

func TestHub_FailingSubscriberIsEvicted(t *testing.T) {
	h := startedHub(t)

	bad := testutil.NewMockSubscriber("bad")
	bad.SetSendError(errors.New("send failed"))
	good := testutil.NewMockSubscriber("good")

	h.Subscribe(bad)
	h.Subscribe(good)

	h.Publish(events.NewEvent(events.EventTypeHeartbeat, nil))

	eventually(t, func() bool { return h.SubscriberCount() == 1 },
		"failing subscriber never evicted")
	eventually(t, func() bool { return good.EventCount() == 1 },
		"healthy subscriber missed the event")
}

func TestHub_ConcurrentPublish(t *testing.T) {
	h := startedHub(t)

	const publishers = 10
	const perPublisher = 20

	subs := make([]*testutil.MockSubscriber, publishers)
	for i := range subs {
		subs[i] = testutil.NewMockSubscriber(fmt.Sprintf("sub-%d", i))
		h.Subscribe(subs[i])
	}

	var wg sync.WaitGroup
	wg.Add(publishers)
	for i := 0; i < publishers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				h.Publish(events.NewEvent(events.EventTypeSessionOutput, map[string]int{"id": id, "seq": j}))
			}
		}(i)
	}
	wg.Wait()

	// Total stays under the broadcast buffer, so nothing may be dropped.
	want := publishers * perPublisher
	for _, sub := range subs {
		sub := sub
		eventually(t, func() bool { return sub.EventCount() == want },
			fmt.Sprintf("subscriber %s lost events under concurrency", sub.ID()))
	}
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	h := New()
	_ = h.Start()

	sub1 := testutil.NewMockSubscriber("sub-1")
	sub2 := testutil.NewMockSubscriber("sub-2")
	h.Subscribe(sub1)
	h.Subscribe(sub2)

	_ = h.Stop()

	for _, sub := range []*testutil.MockSubscriber{sub1, sub2} {
		if !sub.IsClosed() {
			t.Errorf("subscriber %s not closed by Stop()", sub.ID())
		}
	}
}
