package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHub_DeliversInOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	hub.Publish(Status(1, "Running"))
	for i := 0; i < 5; i++ {
		hub.Publish(Output(1, fmt.Sprintf("line %d\n", i)))
	}

	first := <-sub
	assert.Equal(t, StatusChanged, first.Type)
	assert.Equal(t, "Running", first.Status)
	for i := 0; i < 5; i++ {
		ev := <-sub
		assert.Equal(t, OutputAppended, ev.Type)
		assert.Equal(t, fmt.Sprintf("line %d\n", i), ev.Output)
	}
}

func TestHub_FullSubscriberIsEvicted(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	slow := hub.Subscribe()

	total := SubscriberChannelBufferSize + 25
	for i := 0; i < total; i++ {
		hub.Publish(Output(7, fmt.Sprintf("%d", i)))
	}

	assert.Equal(t, uint64(1), hub.Evicted())
	assert.Zero(t, hub.Subscribers())
	assert.False(t, hub.Closed())

	// the buffered prefix is intact, then the channel is closed
	got := 0
	for ev := range slow {
		assert.Equal(t, fmt.Sprintf("%d", got), ev.Output)
		got++
	}
	assert.Equal(t, SubscriberChannelBufferSize, got)

	hub.Unsubscribe(slow) // already gone
}

// A lagging reader sees an unbroken prefix of what was published: either
// every event, or a gap-free run followed by its channel closing.
func TestHub_LaggingReaderNeverSeesGaps(t *testing.T) {
	hub := NewHub()
	const total = 2000

	readers := []time.Duration{0, 20 * time.Microsecond, 200 * time.Microsecond}
	results := make([][]Event, len(readers))
	var wg sync.WaitGroup
	for i, delay := range readers {
		sub := hub.SubscribeExecution(3)
		wg.Add(1)
		go func(i int, delay time.Duration) {
			defer wg.Done()
			for ev := range sub {
				results[i] = append(results[i], ev)
				if delay > 0 {
					time.Sleep(delay)
				}
			}
		}(i, delay)
	}

	for i := 0; i < total; i++ {
		hub.Publish(Output(3, fmt.Sprintf("%d", i)))
	}
	hub.Publish(Status(3, "Success"))
	hub.Close()
	wg.Wait()

	complete := 0
	for i, got := range results {
		for n, ev := range got {
			if n == total {
				assert.Equal(t, StatusChanged, ev.Type, "reader %d", i)
				continue
			}
			require.Equal(t, fmt.Sprintf("%d", n), ev.Output, "reader %d skipped an event", i)
		}
		if len(got) == total+1 {
			complete++
		}
	}
	assert.Equal(t, uint64(len(readers)-complete), hub.Evicted())
}

func TestHub_ExecutionFilter(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	own := hub.SubscribeExecution(7)
	all := hub.Subscribe()

	// another execution's traffic neither reaches nor evicts the filtered subscriber
	for i := 0; i < SubscriberChannelBufferSize*3; i++ {
		hub.Publish(Output(8, "noise\n"))
	}
	hub.Publish(Output(7, "mine\n"))
	hub.Publish(Status(7, "Success"))

	assert.Equal(t, 1, hub.Subscribers())
	assert.Equal(t, uint64(1), hub.Evicted())

	ev := <-own
	assert.Equal(t, "mine\n", ev.Output)
	ev = <-own
	assert.Equal(t, StatusChanged, ev.Type)
	assert.Len(t, own, 0)

	n := 0
	for range all {
		n++
	}
	assert.Equal(t, SubscriberChannelBufferSize, n)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	hub.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())

	hub.Unsubscribe(sub) // second call is a no-op
	hub.Publish(Status(1, "Success"))
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Close()
	assert.True(t, hub.Closed())

	_, ok := <-hub.Subscribe()
	assert.False(t, ok)
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	p.Publish(Status(1, "Failed"))
}
