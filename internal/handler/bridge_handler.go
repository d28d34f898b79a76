package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/bridge-relay/internal/auth"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"go.uber.org/zap"
)

const maxCommandBytes = 64 << 10

// BridgeHandler serves live-bridge listing, command dispatch and owner provisioning.
type BridgeHandler struct {
	hub     *service.BridgeHub
	bridges *service.BridgeService
	logger  *zap.Logger
}

// NewBridgeHandler creates the handler for bridge listing, commands and provisioning.
func NewBridgeHandler(hub *service.BridgeHub, bridges *service.BridgeService, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{hub: hub, bridges: bridges, logger: logger.Named("bridges")}
}

// ListConnected handles GET /bridge/list.
func (h *BridgeHandler) ListConnected(c *gin.Context) {
	c.JSON(http.StatusOK, model.BridgeListResponse{Bridges: h.hub.List()})
}

// SendCommand handles POST /bridge/:bridgeId/command. The body is forwarded verbatim.
func (h *BridgeHandler) SendCommand(c *gin.Context) {
	bridgeID := c.Param("bridgeId")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBytes+1))
	if err != nil || len(body) > maxCommandBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid command body"})
		return
	}
	switch err := h.hub.Dispatch(bridgeID, body); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, errs.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Command must be a JSON object with a type"})
	case errors.Is(err, errs.ErrBridgeNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": "Bridge not connected"})
	default:
		h.logger.Error("command send failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command"})
	}
}

// Create handles POST /bridges.
func (h *BridgeHandler) Create(c *gin.Context) {
	var req model.CreateBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.bridges.Create(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidIdentifier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid camera id"})
			return
		}
		h.logger.Error("create bridge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create bridge"})
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// List handles GET /bridges.
func (h *BridgeHandler) List(c *gin.Context) {
	recs, err := h.bridges.ListByUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.logger.Error("list bridges failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list bridges"})
		return
	}
	out := make([]model.BridgeSummary, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].ToSummary())
	}
	c.JSON(http.StatusOK, gin.H{"bridges": out})
}

// Config handles GET /bridges/:bridgeId/config and returns agent-config.json.
func (h *BridgeHandler) Config(c *gin.Context) {
	cfg, err := h.bridges.AgentConfig(c.Request.Context(), auth.UserID(c), c.Param("bridgeId"))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrBridgeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Bridge not found"})
		case errors.Is(err, errs.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		case errors.Is(err, errs.ErrIncompleteConfig):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Bridge is missing configuration details"})
		default:
			h.logger.Error("load bridge config failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bridge config"})
		}
		return
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode config"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="agent-config.json"`)
	c.Data(http.StatusOK, "application/json", body)
}
