package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	s := b.Subscribe()
	defer b.Unsubscribe(s)

	b.Publish(protocol.Event{Name: "volume-changed"}, "client-1")

	select {
	case msg := <-s.Recv():
		require.Equal(t, "volume-changed", msg.Event.Name)
		require.Equal(t, "client-1", msg.Source)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Unsubscribe(s)

	b.Publish(protocol.Event{Name: "x"}, "src")

	select {
	case <-s.Recv():
		t.Fatal("unsubscribed receiver should not get messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldestAndReportsLag(t *testing.T) {
	b := New()
	s := b.Subscribe()
	defer b.Unsubscribe(s)

	for i := 0; i < capacity+5; i++ {
		b.Publish(protocol.Event{Name: "e"}, "src")
	}

	select {
	case lag := <-s.LaggedSignal():
		require.GreaterOrEqual(t, lag.Count, uint64(1))
	case <-time.After(time.Second):
		t.Fatal("expected a lagged signal once the buffer overflowed")
	}

	// The subscriber channel should still be usable afterward (not terminated).
	require.Equal(t, capacity, len(s.Recv()))
}

func TestMultipleSubscribersEachGetTheMessage(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish(protocol.Event{Name: "e"}, "src")

	for _, s := range []*Subscriber{s1, s2} {
		select {
		case <-s.Recv():
		case <-time.After(time.Second):
			t.Fatal("expected both subscribers to receive")
		}
	}
}
