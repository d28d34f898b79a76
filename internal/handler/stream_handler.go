package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"go.uber.org/zap"
)

// StreamHandler serves HLS playlists and segments to viewers.
type StreamHandler struct {
	streams *service.StreamService
	logger  *zap.Logger
}

// NewStreamHandler creates the viewer-facing stream handler.
func NewStreamHandler(streams *service.StreamService, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{streams: streams, logger: logger.Named("stream")}
}

// Serve handles GET /bridge/stream/:bridgeId/:cameraId/:file where file is
// playlist.m3u8 or segment_<digits>.ts.
func (h *StreamHandler) Serve(c *gin.Context) {
	bridgeID, cameraID, file := c.Param("bridgeId"), c.Param("cameraId"), c.Param("file")

	obj, info, err := h.streams.Open(c.Request.Context(), bridgeID, cameraID, file)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidSegmentName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid segment name"})
		case errors.Is(err, errs.ErrInvalidIdentifier):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bridge or camera id"})
		case errors.Is(err, errs.ErrMediaNotFound):
			msg := "Segment not found"
			if file == service.PlaylistName {
				msg = "Playlist not found"
			}
			c.JSON(http.StatusNotFound, gin.H{"error": msg})
		default:
			h.logger.Error("open media failed",
				zap.String("bridge_id", bridgeID), zap.String("camera_id", cameraID),
				zap.String("file", file), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read media"})
		}
		return
	}
	defer obj.Close()

	c.Header("Content-Type", info.ContentType)
	c.Header("Cache-Control", "no-store")
	if rs, ok := obj.(io.ReadSeeker); ok {
		http.ServeContent(c.Writer, c.Request, file, info.ModTime, rs)
		return
	}
	if info.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, obj); err != nil {
		h.logger.Debug("stream copy interrupted", zap.String("bridge_id", bridgeID), zap.String("file", file), zap.Error(err))
	}
}
