package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: TypePoolScaled, Message: "scaled up"})

	select {
	case ev := <-sub:
		assert.Equal(t, TypePoolScaled, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusDropsOnFullSubscriberBuffer(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer+20; i++ {
		b.Publish(&Event{Type: TypeJobCompleted})
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(sub), subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok)
}
