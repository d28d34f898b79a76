package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/events"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"go.uber.org/zap"
)

const peerSendBuffer = 64

// Peer is one bridge control channel. Outbound frames go through the send queue and are
// written by a single writer goroutine; Close signals that writer to send a close frame.
type Peer struct {
	BridgeID string
	Conn     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

// NewPeer creates a peer for conn (which may be nil in tests).
func NewPeer(bridgeID string, conn *websocket.Conn) *Peer {
	return &Peer{
		BridgeID: bridgeID,
		Conn:     conn,
		send:     make(chan []byte, peerSendBuffer),
		done:     make(chan struct{}),
	}
}

// Enqueue queues data for the writer without blocking.
func (p *Peer) Enqueue(data []byte) error {
	select {
	case <-p.done:
		return errs.ErrBridgeNotConnected
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return errs.ErrBridgeNotConnected
	default:
		return errs.ErrSendBufferFull
	}
}

// Close stops the peer. Only the first call's code and reason are used.
func (p *Peer) Close(code int, reason string) {
	p.closeOnce.Do(func() {
		p.closeCode = code
		p.closeText = reason
		close(p.done)
	})
}

// Outbound is read by the writer goroutine.
func (p *Peer) Outbound() <-chan []byte { return p.send }

// Done is closed once Close has been called.
func (p *Peer) Done() <-chan struct{} { return p.done }

// CloseFrame returns the close code and reason passed to Close.
func (p *Peer) CloseFrame() (int, string) { return p.closeCode, p.closeText }

// BridgeConnection is a registry entry; the entry exclusively owns its peer.
type BridgeConnection struct {
	BridgeID    string
	BridgeName  string
	ConnectedAt time.Time
	LastPing    time.Time
	peer        *Peer
}

func (c *BridgeConnection) info() model.BridgeConnectionInfo {
	return model.BridgeConnectionInfo{
		BridgeID:    c.BridgeID,
		BridgeName:  c.BridgeName,
		ConnectedAt: c.ConnectedAt,
		LastPing:    c.LastPing,
	}
}

// BridgeHub is the connection registry: at most one live control channel per bridge id.
type BridgeHub struct {
	mu       sync.RWMutex
	bridges  map[string]*BridgeConnection
	upgrader websocket.Upgrader

	maxMsgSize   int64
	pingInterval time.Duration
	log          *zap.Logger
	metrics      *metrics.Metrics // optional
	events       events.Publisher
	now          func() time.Time
}

// NewBridgeHub creates an empty registry.
func NewBridgeHub(readBuf, writeBuf int, maxMessageSize int64, pingInterval time.Duration, log *zap.Logger) *BridgeHub {
	return &BridgeHub{
		bridges:      make(map[string]*BridgeConnection),
		maxMsgSize:   maxMessageSize,
		pingInterval: pingInterval,
		log:          log.Named("hub"),
		events:       events.Nop{},
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Agents are not browsers; they do not send Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetMetrics attaches Prometheus metrics.
func (h *BridgeHub) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetPublisher attaches a lifecycle event publisher.
func (h *BridgeHub) SetPublisher(p events.Publisher) { h.events = p }

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *BridgeHub) Upgrader() *websocket.Upgrader { return &h.upgrader }

// PingInterval is the period of outbound ping envelopes.
func (h *BridgeHub) PingInterval() time.Duration { return h.pingInterval }

// Attach wraps an upgraded connection in a peer. The peer is not registered until the
// bridge sends "register".
func (h *BridgeHub) Attach(bridgeID string, conn *websocket.Conn) *Peer {
	if h.maxMsgSize > 0 {
		conn.SetReadLimit(h.maxMsgSize)
	}
	return NewPeer(bridgeID, conn)
}

// Register installs or replaces the entry for bridgeID and closes a superseded peer. A peer
// that is already closed (superseded or evicted) is not installed and Register returns false.
func (h *BridgeHub) Register(bridgeID, bridgeName string, p *Peer) bool {
	now := h.now()
	h.mu.Lock()
	select {
	case <-p.Done():
		h.mu.Unlock()
		h.log.Debug("register from closed channel ignored", zap.String("bridge_id", bridgeID))
		return false
	default:
	}
	prev := h.bridges[bridgeID]
	h.bridges[bridgeID] = &BridgeConnection{
		BridgeID:    bridgeID,
		BridgeName:  bridgeName,
		ConnectedAt: now,
		LastPing:    now,
		peer:        p,
	}
	if prev != nil && prev.peer != p {
		// Closed under the lock so the old channel can never register again.
		prev.peer.Close(websocket.CloseNormalClosure, "superseded by a newer connection")
	}
	n := len(h.bridges)
	h.mu.Unlock()

	if prev != nil && prev.peer != p {
		h.log.Info("bridge connection superseded", zap.String("bridge_id", bridgeID))
	}
	h.setGauge(n)
	h.log.Info("bridge connected", zap.String("bridge_id", bridgeID), zap.String("bridge_name", bridgeName))
	h.events.Publish(context.Background(), events.Event{
		Type:       events.TypeBridgeConnected,
		BridgeID:   bridgeID,
		BridgeName: bridgeName,
		Timestamp:  now,
	})
	return true
}

// Unregister removes the entry for bridgeID. Removing an absent id is a no-op.
func (h *BridgeHub) Unregister(bridgeID string) {
	h.mu.Lock()
	_, ok := h.bridges[bridgeID]
	delete(h.bridges, bridgeID)
	n := len(h.bridges)
	h.mu.Unlock()
	if ok {
		h.disconnected(bridgeID, n)
	}
}

// Release removes the entry for p's bridge id only while p still owns it, so a closing
// superseded channel cannot evict its replacement.
func (h *BridgeHub) Release(p *Peer) bool {
	h.mu.Lock()
	cur, ok := h.bridges[p.BridgeID]
	owned := ok && cur.peer == p
	if owned {
		delete(h.bridges, p.BridgeID)
	}
	n := len(h.bridges)
	h.mu.Unlock()
	if owned {
		h.disconnected(p.BridgeID, n)
	}
	return owned
}

func (h *BridgeHub) disconnected(bridgeID string, n int) {
	h.setGauge(n)
	h.log.Info("bridge disconnected", zap.String("bridge_id", bridgeID))
	h.events.Publish(context.Background(), events.Event{
		Type:      events.TypeBridgeDisconnected,
		BridgeID:  bridgeID,
		Timestamp: h.now(),
	})
}

// UpdatePing refreshes lastPing for a registered bridge; unknown ids are ignored.
// lastPing never moves backwards.
func (h *BridgeHub) UpdatePing(bridgeID string) {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.bridges[bridgeID]; ok && now.After(c.LastPing) {
		c.LastPing = now
	}
}

// Get returns a snapshot of the entry for bridgeID.
func (h *BridgeHub) Get(bridgeID string) (model.BridgeConnectionInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.bridges[bridgeID]
	if !ok {
		return model.BridgeConnectionInfo{}, false
	}
	return c.info(), true
}

// List returns a point-in-time snapshot ordered by bridge id.
func (h *BridgeHub) List() []model.BridgeConnectionInfo {
	h.mu.RLock()
	out := make([]model.BridgeConnectionInfo, 0, len(h.bridges))
	for _, c := range h.bridges {
		out = append(out, c.info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BridgeID < out[j].BridgeID })
	return out
}

// Count returns the number of registered bridges.
func (h *BridgeHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bridges)
}

// Send queues a raw frame on the bridge's control channel.
func (h *BridgeHub) Send(bridgeID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.bridges[bridgeID]
	h.mu.RUnlock()
	if !ok {
		return errs.ErrBridgeNotConnected
	}
	return c.peer.Enqueue(data)
}

// CloseStale evicts bridges whose lastPing is older than maxAge and closes their channels.
func (h *BridgeHub) CloseStale(maxAge time.Duration) []string {
	cutoff := h.now().Add(-maxAge)
	var stale []*BridgeConnection
	h.mu.Lock()
	for id, c := range h.bridges {
		if c.LastPing.Before(cutoff) {
			stale = append(stale, c)
			delete(h.bridges, id)
		}
	}
	n := len(h.bridges)
	h.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		c.peer.Close(websocket.CloseGoingAway, "liveness timeout")
		ids = append(ids, c.BridgeID)
		h.log.Warn("closing stale bridge", zap.String("bridge_id", c.BridgeID), zap.Time("last_ping", c.LastPing))
		h.disconnected(c.BridgeID, n)
		if h.metrics != nil {
			h.metrics.StaleEvictions.Inc()
		}
	}
	sort.Strings(ids)
	return ids
}

// Evict removes bridgeID and closes its channel with a policy-violation close, e.g. after
// its credential was revoked. It reports whether an entry was removed.
func (h *BridgeHub) Evict(bridgeID, reason string) bool {
	h.mu.Lock()
	c, ok := h.bridges[bridgeID]
	if ok {
		delete(h.bridges, bridgeID)
		c.peer.Close(websocket.ClosePolicyViolation, reason)
	}
	n := len(h.bridges)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.log.Warn("bridge evicted", zap.String("bridge_id", bridgeID), zap.String("reason", reason))
	h.disconnected(bridgeID, n)
	return true
}

// CloseAll closes every registered channel (shutdown).
func (h *BridgeHub) CloseAll() {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.bridges))
	for _, c := range h.bridges {
		peers = append(peers, c.peer)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		p.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *BridgeHub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.ConnectedBridges.Set(float64(n))
	}
}

// Dispatch forwards an operator command verbatim. body must be a JSON object with a
// non-empty string "type".
func (h *BridgeHub) Dispatch(bridgeID string, body []byte) error {
	if err := ValidateCommand(body); err != nil {
		h.countCommand("invalid")
		return err
	}
	if err := h.Send(bridgeID, body); err != nil {
		if errors.Is(err, errs.ErrBridgeNotConnected) {
			h.countCommand("not_connected")
		} else {
			h.countCommand("error")
		}
		return err
	}
	h.countCommand("sent")
	h.log.Info("command forwarded", zap.String("bridge_id", bridgeID), zap.Int("bytes", len(body)))
	return nil
}

// ValidateCommand checks the command envelope without interpreting the payload.
func ValidateCommand(body []byte) error {
	var env struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return errs.ErrInvalidCommand
	}
	var typ string
	if err := json.Unmarshal(env.Type, &typ); err != nil || typ == "" {
		return errs.ErrInvalidCommand
	}
	return nil
}

func (h *BridgeHub) countCommand(result string) {
	if h.metrics != nil {
		h.metrics.Commands.WithLabelValues(result).Inc()
	}
}
