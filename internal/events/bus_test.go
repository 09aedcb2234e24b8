package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus() *Bus {
	return NewBus(zap.NewNop().Sugar())
}

func TestBusFanOut(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(StateChanged{Old: StateDisconnected, New: StateConnecting})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		sc, ok := ev.(StateChanged)
		require.True(t, ok)
		assert.Equal(t, StateConnecting, sc.New)
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(SessionInvalid{})
	b.Publish(SessionInvalid{}) // buffer full, dropped, must not block

	<-ch
	select {
	case ev := <-ch:
		t.Fatalf("expected dropped event, got %v", ev)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// publishing after unsubscribe is a no-op
	b.Publish(SessionInvalid{})
}
