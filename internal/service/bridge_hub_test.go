package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/events"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func newTestHub() (*BridgeHub, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := NewBridgeHub(1024, 1024, 1<<20, 30*time.Second, zap.NewNop())
	h.now = clock.Now
	return h, clock
}

func TestBridgeHubRegisterReplaces(t *testing.T) {
	h, _ := newTestHub()
	first := NewPeer("b1", nil)
	second := NewPeer("b1", nil)

	h.Register("b1", "Lobby", first)
	h.Register("b1", "Lobby again", second)

	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Lobby again", list[0].BridgeName)

	select {
	case <-first.Done():
	default:
		t.Fatal("superseded peer was not closed")
	}
	code, _ := first.CloseFrame()
	assert.Equal(t, websocket.CloseNormalClosure, code)

	assert.False(t, h.Release(first), "stale peer must not evict its replacement")
	assert.Equal(t, 1, h.Count())
	assert.True(t, h.Release(second))
	assert.Equal(t, 0, h.Count())
}

func TestBridgeHubRegisterIgnoresClosedPeer(t *testing.T) {
	h, _ := newTestHub()
	old := NewPeer("b1", nil)
	current := NewPeer("b1", nil)
	require.True(t, h.Register("b1", "Old", old))
	require.True(t, h.Register("b1", "New", current))

	// A register frame still buffered on the superseded channel arrives late.
	assert.False(t, h.Register("b1", "Old", old))
	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, "New", list[0].BridgeName)
	select {
	case <-current.Done():
		t.Fatal("current peer was closed")
	default:
	}
}

func TestBridgeHubEvict(t *testing.T) {
	h, _ := newTestHub()
	pub := &recordingPublisher{}
	h.SetPublisher(pub)
	p := NewPeer("b1", nil)
	h.Register("b1", "Lobby", p)

	assert.True(t, h.Evict("b1", "credentials revoked"))
	assert.Zero(t, h.Count())
	code, reason := p.CloseFrame()
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "credentials revoked", reason)
	assert.False(t, h.Release(p))
	assert.False(t, h.Evict("b1", "credentials revoked"))
	assert.Equal(t, []string{events.TypeBridgeConnected, events.TypeBridgeDisconnected}, pub.Types())
}

func TestBridgeHubUnregisterIdempotent(t *testing.T) {
	h, _ := newTestHub()
	h.Register("b1", "Lobby", NewPeer("b1", nil))

	h.Unregister("b1")
	h.Unregister("b1")
	h.Unregister("never-seen")

	_, ok := h.Get("b1")
	assert.False(t, ok)
	assert.Empty(t, h.List())
}

func TestBridgeHubUpdatePing(t *testing.T) {
	h, clock := newTestHub()
	h.UpdatePing("absent")
	assert.Empty(t, h.List())

	h.Register("b1", "Lobby", NewPeer("b1", nil))
	clock.Advance(10 * time.Second)
	h.UpdatePing("b1")

	info, ok := h.Get("b1")
	require.True(t, ok)
	assert.Equal(t, info.ConnectedAt.Add(10*time.Second), info.LastPing)

	clock.Advance(-5 * time.Second)
	h.UpdatePing("b1")
	again, _ := h.Get("b1")
	assert.Equal(t, info.LastPing, again.LastPing, "lastPing must not move backwards")
}

func TestBridgeHubListIsSnapshot(t *testing.T) {
	h, _ := newTestHub()
	h.Register("b2", "Dock", NewPeer("b2", nil))
	h.Register("b1", "Lobby", NewPeer("b1", nil))

	list := h.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b1", list[0].BridgeID)

	h.Unregister("b1")
	assert.Len(t, list, 2)
	assert.Len(t, h.List(), 1)
}

func TestBridgeHubSend(t *testing.T) {
	h, _ := newTestHub()
	assert.ErrorIs(t, h.Send("absent", []byte(`{}`)), errs.ErrBridgeNotConnected)

	p := NewPeer("b1", nil)
	h.Register("b1", "Lobby", p)
	require.NoError(t, h.Send("b1", []byte(`{"type":"reboot"}`)))
	assert.Equal(t, `{"type":"reboot"}`, string(<-p.Outbound()))

	p.Close(websocket.CloseNormalClosure, "")
	assert.ErrorIs(t, h.Send("b1", []byte(`{}`)), errs.ErrBridgeNotConnected)
}

func TestPeerEnqueueBufferFull(t *testing.T) {
	p := NewPeer("b1", nil)
	for i := 0; i < peerSendBuffer; i++ {
		require.NoError(t, p.Enqueue([]byte("x")))
	}
	assert.ErrorIs(t, p.Enqueue([]byte("x")), errs.ErrSendBufferFull)
}

func TestBridgeHubDispatch(t *testing.T) {
	h, _ := newTestHub()
	m := metrics.New(prometheus.NewRegistry())
	h.SetMetrics(m)
	p := NewPeer("b1", nil)
	h.Register("b1", "Lobby", p)

	for _, body := range []string{`not json`, `[]`, `{}`, `{"type":""}`, `{"type":7}`} {
		assert.ErrorIs(t, h.Dispatch("b1", []byte(body)), errs.ErrInvalidCommand, body)
	}
	assert.ErrorIs(t, h.Dispatch("absent", []byte(`{"type":"snapshot"}`)), errs.ErrBridgeNotConnected)

	body := []byte(`{"type":"snapshot","camera":"c1","opts":{"q":1}}`)
	require.NoError(t, h.Dispatch("b1", body))
	assert.Equal(t, body, <-p.Outbound())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("sent")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Commands.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("not_connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedBridges))
}

func TestBridgeHubCloseStale(t *testing.T) {
	h, clock := newTestHub()
	pub := &recordingPublisher{}
	h.SetPublisher(pub)

	stale := NewPeer("old", nil)
	h.Register("old", "Old", stale)
	clock.Advance(2 * time.Minute)
	h.Register("fresh", "Fresh", NewPeer("fresh", nil))

	ids := h.CloseStale(time.Minute)
	assert.Equal(t, []string{"old"}, ids)
	assert.Equal(t, 1, h.Count())
	select {
	case <-stale.Done():
	default:
		t.Fatal("stale peer was not closed")
	}
	assert.False(t, h.Release(stale))

	assert.Equal(t, []string{
		events.TypeBridgeConnected,
		events.TypeBridgeConnected,
		events.TypeBridgeDisconnected,
	}, pub.Types())
}

func TestBridgeHubConcurrentAccess(t *testing.T) {
	h, _ := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewPeer("b1", nil)
			h.Register("b1", "Lobby", p)
			h.UpdatePing("b1")
			_ = h.List()
			_ = h.Send("b1", []byte(`{"type":"x"}`))
			h.Release(p)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, h.Count(), 1)
}
