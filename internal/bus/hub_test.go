package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub[int](4)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(42)

	assert.Equal(t, 42, <-a)
	assert.Equal(t, 42, <-b)
}

func TestHubReplaysLastToLateSubscriber(t *testing.T) {
	hub := NewHub[string](4)
	hub.Publish("first")
	hub.Publish("second")

	ch, cancel := hub.Subscribe()
	defer cancel()

	assert.Equal(t, "second", <-ch)
}

func TestHubPublishDropsOldestWhenFull(t *testing.T) {
	hub := NewHub[int](2)
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}

	// buffer of 2: only the two newest survive
	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub[int](1)
	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Len())

	cancel()
	assert.Equal(t, 0, hub.Len())
	_, open := <-ch
	assert.False(t, open)

	// cancelling twice is safe
	cancel()
}

func TestHubLast(t *testing.T) {
	hub := NewHub[int](1)
	_, ok := hub.Last()
	assert.False(t, ok)

	hub.Publish(7)
	v, ok := hub.Last()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}
