package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	_, ch1, cancel1 := b.Subscribe(1)
	defer cancel1()
	_, ch2, cancel2 := b.Subscribe(1)
	defer cancel2()

	b.Publish(Event{ConnID: "c1", Kind: KindConnected})

	select {
	case e := <-ch1:
		assert.Equal(t, KindConnected, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("ch1 did not receive event")
	}
	select {
	case e := <-ch2:
		assert.Equal(t, KindConnected, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive event")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	_, ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{ConnID: "a", Kind: KindConnected})
	b.Publish(Event{ConnID: "b", Kind: KindDisconnected})

	e := <-ch
	assert.Equal(t, "a", e.ConnID)
	select {
	case <-ch:
		t.Fatal("expected second event to have been dropped")
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	_, ch, cancel := b.Subscribe(2)
	cancel()
	cancel() // idempotent

	b.Publish(Event{ConnID: "x", Kind: KindDisposed})

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after cancel")
}
