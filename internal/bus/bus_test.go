package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New(zerolog.Nop())

	var got1, got2 []string
	b.Subscribe("one", func(e Event) { got1 = append(got1, e.Type) })
	b.Subscribe("two", func(e Event) { got2 = append(got2, e.Type) })

	b.Broadcast(Event{Type: "task_update"})
	b.Broadcast(Event{Type: "agent_status"})

	assert.Equal(t, []string{"task_update", "agent_status"}, got1)
	assert.Equal(t, []string{"task_update", "agent_status"}, got2)
}

func TestBroadcastStampsTimestamp(t *testing.T) {
	b := New(zerolog.Nop())
	var ts int64
	b.Subscribe("one", func(e Event) { ts = e.TimestampMs })
	b.Broadcast(Event{Type: "x"})
	assert.NotZero(t, ts)
}

func TestPanickingSubscriberIsDropped(t *testing.T) {
	b := New(zerolog.Nop())

	var healthy int
	b.Subscribe("bad", func(Event) { panic("boom") })
	b.Subscribe("good", func(Event) { healthy++ })

	b.Broadcast(Event{Type: "x"})
	assert.Equal(t, 1, healthy, "a panicking subscriber must not block others")
	assert.Equal(t, 1, b.SubscriberCount(), "the panicking subscriber is removed")

	b.Broadcast(Event{Type: "y"})
	assert.Equal(t, 2, healthy)
}

func TestUnsubscribe(t *testing.T) {
	b := New(zerolog.Nop())
	var n int
	b.Subscribe("one", func(Event) { n++ })
	b.Unsubscribe("one")
	b.Broadcast(Event{Type: "x"})
	assert.Zero(t, n)
}
