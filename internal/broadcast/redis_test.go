package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/domain"
)

func envelope(t *testing.T, instanceID, diagramID, topic, except string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(wireEnvelope{
		InstanceID: instanceID,
		DiagramID:  diagramID,
		Topic:      topic,
		Except:     except,
		Data:       raw,
	})
	require.NoError(t, err)
	return body
}

func TestRelayIgnoresOwnInstanceMessages(t *testing.T) {
	hub := NewHub(zap.NewNop())
	relay := NewRedisBroadcaster(hub, nil, "inst-a", zap.NewNop())
	sub := hub.Subscribe("d1", "c1")

	// An envelope this instance published already reached the hub at publish
	// time; replaying it would deliver every broadcast twice.
	relay.handlePayload(envelope(t, "inst-a", "d1", domain.TopicPresence, "", "hello"))
	assert.Empty(t, drain(sub.Events))
}

func TestRelayDeliversForeignInstanceMessages(t *testing.T) {
	hub := NewHub(zap.NewNop())
	relay := NewRedisBroadcaster(hub, nil, "inst-a", zap.NewNop())
	sub := hub.Subscribe("d1", "c1")
	other := hub.Subscribe("d2", "c2")

	relay.handlePayload(envelope(t, "inst-b", "d1", domain.TopicPresence, "", "hello"))

	got := drain(sub.Events)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TopicPresence, got[0].Topic)
	raw, ok := got[0].Data.(json.RawMessage)
	require.True(t, ok, "relayed payloads pass through verbatim")
	assert.JSONEq(t, `"hello"`, string(raw))
	assert.Empty(t, drain(other.Events), "relay respects diagram scoping")
}

func TestRelayHonorsExceptConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	relay := NewRedisBroadcaster(hub, nil, "inst-a", zap.NewNop())
	alice := hub.Subscribe("d1", "c1")
	bob := hub.Subscribe("d1", "c2")

	relay.handlePayload(envelope(t, "inst-b", "d1", domain.TopicCursors, "c1", map[string]any{"x": 1}))

	assert.Empty(t, drain(alice.Cursors))
	assert.Len(t, drain(bob.Cursors), 1)
}

func TestRelayDropsMalformedEnvelopes(t *testing.T) {
	hub := NewHub(zap.NewNop())
	relay := NewRedisBroadcaster(hub, nil, "inst-a", zap.NewNop())
	sub := hub.Subscribe("d1", "c1")

	relay.handlePayload([]byte("not json"))
	assert.Empty(t, drain(sub.Events))
}
