package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEventsInOrder(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Kind: EventExpertStarted, ExpertID: "alice"})
	b.Publish(Event{Kind: EventExpertAnswer, ExpertID: "alice"})

	first := <-ch
	second := <-ch
	require.Equal(t, EventExpertStarted, first.Kind)
	require.Equal(t, EventExpertAnswer, second.Kind)
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.Publish(Event{Kind: EventStageStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	// drain so the goroutine's sends aren't left dangling in the test.
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := New()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
}
