package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	// Push 4 events, which will overwrite the first
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestManagerPublishSubscribe(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("run-1", 4)
	other := m.Subscribe("run-2", 4)

	first := m.Publish("run-1", Event{Type: EventNodeCompleted, Node: "clarify"})
	m.Publish("run-1", Event{Type: EventQuestion, Message: "Web or mobile?"})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "run-1", first.RunID)
	assert.False(t, first.Timestamp.IsZero())

	got := <-ch
	assert.Equal(t, EventNodeCompleted, got.Type)
	got = <-ch
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, "Web or mobile?", got.Message)
	assert.Len(t, other, 0)

	m.Unsubscribe("run-1", ch)
	_, open := <-ch
	assert.False(t, open)
	// A second unsubscribe must not panic on the closed channel.
	m.Unsubscribe("run-1", ch)
}

func TestManagerReplayAndSinks(t *testing.T) {
	m := NewManager(3, zaptest.NewLogger(t))
	var sunk []Event
	m.AddSink(func(e Event) { sunk = append(sunk, e) })

	for i := 0; i < 5; i++ {
		m.Publish("run-1", Event{Type: EventNodeCompleted})
	}
	evs := m.ReplaySince("run-1", 3)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(4), evs[0].Seq)
	assert.Len(t, m.ReplaySince("run-1", 0), 3)
	assert.Len(t, sunk, 5)

	m.Forget("run-1")
	assert.Nil(t, m.ReplaySince("run-1", 0))
	assert.Nil(t, m.ReplaySince("unknown", 0))
}

func TestManagerDropsForSlowSubscriber(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("run-1", 1)
	defer m.Unsubscribe("run-1", ch)

	done := make(chan struct{})
	go func() {
		m.Publish("run-1", Event{Type: EventNodeCompleted})
		m.Publish("run-1", Event{Type: EventNodeCompleted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Len(t, m.ReplaySince("run-1", 0), 2)
}
