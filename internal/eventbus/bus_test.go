package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe(TopicLogs)
	b.Publish(TopicLogs, "hello")

	select {
	case ev := <-sub.C():
		require.Equal(t, "hello", ev)
	default:
		t.Fatal("expected buffered event")
	}
}

func TestPublishDropsOldestOnFullQueueWithoutBlocking(t *testing.T) {
	b := New(2, nil)
	sub := b.Subscribe(TopicStatus)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(TopicStatus, i)
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // publish must never block even once the queue is full

	// The two most recent events must survive; the eight older ones were
	// evicted from the head, not the newly published tail.
	first := <-sub.C()
	second := <-sub.C()
	require.Equal(t, 8, first)
	require.Equal(t, 9, second)
	select {
	case extra := <-sub.C():
		t.Fatalf("expected exactly 2 buffered events, got an extra one: %v", extra)
	default:
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe(TopicReports)
	require.Equal(t, 1, b.SubscriberCount(TopicReports))
	sub.Unsubscribe()
	require.Equal(t, 0, b.SubscriberCount(TopicReports))
}

func TestTopicsAreIndependent(t *testing.T) {
	b := New(4, nil)
	logsSub := b.Subscribe(TopicLogs)
	statusSub := b.Subscribe(TopicStatus)

	b.Publish(TopicLogs, "a log")

	select {
	case <-statusSub.C():
		t.Fatal("status subscriber should not receive logs events")
	default:
	}
	require.NotEmpty(t, logsSub.C())
}
