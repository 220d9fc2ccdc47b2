package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishBreakRoutesByKind(t *testing.T) {
	bus := NewEventBus()
	breaks := make(chan Event, 1)
	chochs := make(chan Event, 1)
	all := make(chan Event, 2)
	bus.Subscribe(EventStructureBreak, func(e Event) { breaks <- e })
	bus.Subscribe(EventChangeOfCharacter, func(e Event) { chochs <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.PublishBreak("BTCUSDT", "1h", "BOS", "bullish", 110, at)
	ev := receive(t, breaks)
	assert.Equal(t, 110.0, ev.Data["level"])
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())

	bus.PublishBreak("BTCUSDT", "1h", "CHoCH", "bearish", 100, at)
	ev = receive(t, chochs)
	assert.Equal(t, "bearish", ev.Data["direction"])

	got := []EventType{receive(t, all).Type, receive(t, all).Type}
	require.ElementsMatch(t, []EventType{EventStructureBreak, EventChangeOfCharacter}, got)
}
