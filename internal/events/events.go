// Package events publishes bridge lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeBridgeConnected    = "bridge.connected"
	TypeBridgeDisconnected = "bridge.disconnected"
	TypeMediaUploaded      = "media.uploaded"
)

// Event is a lifecycle notification keyed by bridge id.
type Event struct {
	Type       string    `json:"type"`
	BridgeID   string    `json:"bridge_id"`
	BridgeName string    `json:"bridge_name,omitempty"`
	CameraID   string    `json:"camera_id,omitempty"`
	File       string    `json:"file,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events. Implementations must not block callers on broker I/O.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close() error                   { return nil }
