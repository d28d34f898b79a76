package handler

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"go.uber.org/zap"
)

const (
	HeaderBridgeID = "X-Bridge-Id"
	HeaderAPIKey   = "X-Api-Key"

	writeWait = 10 * time.Second

	defaultBridgeName      = "Unknown Bridge"
	registeredConfirmation = "Successfully registered with the cloud relay"
)

// BridgeWSHandler runs the control channel for GET /bridge/ws.
type BridgeWSHandler struct {
	hub          *service.BridgeHub
	auth         *service.Authenticator
	autoRegister bool
	metrics      *metrics.Metrics // optional
	logger       *zap.Logger
}

// NewBridgeWSHandler creates the control channel handler. With autoRegister, bridge ids
// unknown to the relay are enrolled with the key they present.
func NewBridgeWSHandler(hub *service.BridgeHub, auth *service.Authenticator, autoRegister bool, m *metrics.Metrics, logger *zap.Logger) *BridgeWSHandler {
	return &BridgeWSHandler{hub: hub, auth: auth, autoRegister: autoRegister, metrics: m, logger: logger.Named("control")}
}

// ServeWS upgrades the request, checks the credential headers and runs the channel until it
// closes. Credential failures close the channel with 1008 (policy violation).
func (h *BridgeWSHandler) ServeWS(c *gin.Context) {
	bridgeID := c.GetHeader(HeaderBridgeID)
	apiKey := c.GetHeader(HeaderAPIKey)

	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	switch err := h.auth.AuthenticateChannel(c.Request.Context(), bridgeID, apiKey, h.autoRegister); {
	case errors.Is(err, errs.ErrMissingCredentials):
		h.reject(conn, "Missing bridge credentials")
		return
	case err != nil:
		h.reject(conn, "Invalid credentials")
		return
	}
	h.logger.Info("bridge authenticated", zap.String("bridge_id", bridgeID))

	peer := h.hub.Attach(bridgeID, conn)
	go h.writePump(peer)
	h.readPump(peer)
}

func (h *BridgeWSHandler) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// readPump dispatches inbound envelopes in arrival order. Closing or failing always
// releases the registry entry and stops the writer.
func (h *BridgeWSHandler) readPump(p *service.Peer) {
	bridgeName := defaultBridgeName
	defer func() {
		h.hub.Release(p)
		p.Close(websocket.CloseNormalClosure, "")
	}()
	for {
		_, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("control channel error", zap.String("bridge_id", p.BridgeID), zap.Error(err))
			}
			return
		}

		var msg model.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed control message", zap.String("bridge_id", p.BridgeID), zap.Error(err))
			continue
		}
		h.countMessage(msg.Type)

		switch msg.Type {
		case model.MessageRegister:
			if msg.BridgeName != "" {
				bridgeName = msg.BridgeName
			}
			if !h.hub.Register(p.BridgeID, bridgeName, p) {
				return
			}
			reply, _ := json.Marshal(model.RegisteredMessage{
				Type:     model.MessageRegistered,
				BridgeID: p.BridgeID,
				Message:  registeredConfirmation,
			})
			if err := p.Enqueue(reply); err != nil {
				h.logger.Warn("registered reply dropped", zap.String("bridge_id", p.BridgeID), zap.Error(err))
			}
		case model.MessagePong:
			h.hub.UpdatePing(p.BridgeID)
		case model.MessageStatus:
			h.logger.Info("bridge status update", zap.String("bridge_id", p.BridgeID), zap.ByteString("status", data))
		default:
			h.logger.Debug("unhandled control message", zap.String("bridge_id", p.BridgeID), zap.String("type", msg.Type))
		}
	}
}

// writePump is the only writer on the connection. It sends queued frames and a ping
// envelope every ping interval, and stops on the first write error or when the peer closes.
func (h *BridgeWSHandler) writePump(p *service.Peer) {
	ticker := time.NewTicker(h.hub.PingInterval())
	ping, _ := json.Marshal(model.PingMessage{Type: model.MessagePing})
	defer func() {
		ticker.Stop()
		_ = p.Conn.Close()
	}()
	for {
		select {
		case data := <-p.Outbound():
			if err := h.write(p, data); err != nil {
				p.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := h.write(p, ping); err != nil {
				p.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-p.Done():
			code, reason := p.CloseFrame()
			if code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(code, reason)
				_ = p.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (h *BridgeWSHandler) write(p *service.Peer, data []byte) error {
	_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.Conn.WriteMessage(websocket.TextMessage, data)
}

func (h *BridgeWSHandler) countMessage(typ string) {
	if h.metrics == nil {
		return
	}
	switch typ {
	case model.MessageRegister, model.MessagePong, model.MessageStatus:
	default:
		typ = "other"
	}
	h.metrics.ControlMessages.WithLabelValues(typ).Inc()
}
