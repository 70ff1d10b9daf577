package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(evs []Event) []int64 {
	out := make([]int64, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}

func TestHubWindowKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := range 5 {
		h.Publish("unit.reported", map[string]int{"unit_id": i})
	}

	snap := h.SnapshotSince(0, "")
	assert.Equal(t, []int64{3, 4, 5}, ids(snap))

	var data map[string]int
	require.NoError(t, json.Unmarshal(snap[2].Data, &data))
	assert.Equal(t, 4, data["unit_id"])

	assert.Equal(t, []int64{5}, ids(h.SnapshotSince(4, "")))
}

func TestHubSnapshotFiltersByPrefix(t *testing.T) {
	h := NewHub(10)
	h.Publish("dispatch.started", nil)
	h.Publish("unit.spawned", nil)
	h.Publish("unit.reported", nil)
	h.Publish("dispatch.completed", nil)

	units := h.SnapshotSince(0, "unit.")
	require.Len(t, units, 2)
	assert.Equal(t, "unit.spawned", units[0].Type)
	assert.Equal(t, json.RawMessage(`{}`), units[0].Data)
}

func TestHubSubscribeFiltersAndCancels(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe("dispatch.")
	assert.Equal(t, 1, h.Subscribers())

	h.Publish("unit.spawned", nil)
	h.Publish("dispatch.started", map[string]string{"run_id": "r1"})
	select {
	case ev := <-ch:
		assert.Equal(t, "dispatch.started", ev.Type)
		assert.Equal(t, int64(2), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())
	cancel()
}

func TestHubCountsDropsForLaggingSubscriber(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe("")
	defer cancel()

	for range 70 {
		h.Publish("unit.reported", nil)
	}
	assert.Equal(t, uint64(6), h.Dropped())
	assert.Len(t, h.SnapshotSince(0, ""), 10)
}
