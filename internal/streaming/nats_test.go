package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNATSBridgeForwardsEvents(t *testing.T) {
	srv, err := StartEmbeddedServer(-1)
	require.NoError(t, err)
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	bridge, err := NewNATSBridge(srv.ClientURL(), "", logger)
	require.NoError(t, err)
	defer bridge.Close()
	assert.Equal(t, "planner.runs.run-1", bridge.Subject("run-1"))

	received := make(chan Event, 4)
	_, err = bridge.Subscribe("*", func(e Event) { received <- e })
	require.NoError(t, err)
	require.NoError(t, bridge.Flush())

	m := NewManager(8, logger)
	bridge.Attach(m)
	m.Publish("run-1", Event{Type: EventInterrupt, Message: "approve?"})
	require.NoError(t, bridge.Flush())

	select {
	case e := <-received:
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, EventInterrupt, e.Type)
		assert.Equal(t, uint64(1), e.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}
}
