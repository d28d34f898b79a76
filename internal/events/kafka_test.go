package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encodeEvent(Event{
		Type:      TypeMediaUploaded,
		BridgeID:  "bridge-1",
		CameraID:  "cam-1",
		File:      "segment_1.ts",
		Size:      188,
		Timestamp: ts,
	})
	require.NoError(t, err)

	assert.Equal(t, "bridge-1", string(msg.Key))
	assert.Equal(t, ts, msg.Time)
	assert.JSONEq(t, `{
		"type": "media.uploaded",
		"bridge_id": "bridge-1",
		"camera_id": "cam-1",
		"file": "segment_1.ts",
		"size": 188,
		"timestamp": "2026-03-01T12:00:00Z"
	}`, string(msg.Value))
}

func TestEncodeEventOmitsEmptyFields(t *testing.T) {
	msg, err := encodeEvent(Event{Type: TypeBridgeDisconnected, BridgeID: "bridge-2"})
	require.NoError(t, err)
	assert.False(t, msg.Time.IsZero(), "missing timestamp is filled in")

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &fields))
	assert.Equal(t, "bridge.disconnected", fields["type"])
	assert.NotContains(t, fields, "bridge_name")
	assert.NotContains(t, fields, "camera_id")
	assert.NotContains(t, fields, "size")
}
