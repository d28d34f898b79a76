package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the file cap (boundaries, form fields).
const formOverhead = 64 << 10

// UploadHandler accepts segment and playlist uploads from bridges.
type UploadHandler struct {
	auth        *service.Authenticator
	ingest      *service.IngestService
	segmentMax  int64
	manifestMax int64
	logger      *zap.Logger
}

// NewUploadHandler creates the upload handler. segmentMax and manifestMax cap the file part
// of segment and playlist uploads.
func NewUploadHandler(auth *service.Authenticator, ingest *service.IngestService, segmentMax, manifestMax int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{auth: auth, ingest: ingest, segmentMax: segmentMax, manifestMax: manifestMax, logger: logger.Named("upload")}
}

// UploadSegment handles POST /bridge/upload-segment.
func (h *UploadHandler) UploadSegment(c *gin.Context) {
	h.handle(c, service.KindSegment, h.segmentMax)
}

// UploadFile handles POST /bridge/upload-file (playlists).
func (h *UploadHandler) UploadFile(c *gin.Context) {
	h.handle(c, service.KindManifest, h.manifestMax)
}

func (h *UploadHandler) handle(c *gin.Context, kind service.UploadKind, limit int64) {
	bridgeID := c.GetHeader(HeaderBridgeID)
	if err := h.auth.Authenticate(c.Request.Context(), bridgeID, c.GetHeader(HeaderAPIKey)); err != nil {
		msg := "Invalid credentials"
		if errors.Is(err, errs.ErrMissingCredentials) {
			msg = "Missing credentials"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formOverhead)
	if err := c.Request.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed multipart body"})
		return
	}
	form := c.Request.MultipartForm
	defer func() { _ = form.RemoveAll() }()

	fh := firstFile(form)
	if fh != nil && fh.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
		return
	}
	up := service.Upload{
		BridgeID:     bridgeID,
		FormBridgeID: formValue(form, "bridge_id"),
		CameraID:     formValue(form, "camera_id"),
	}
	if fh != nil {
		f, err := fh.Open()
		if err != nil {
			h.logger.Error("open uploaded file", zap.String("bridge_id", bridgeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
			return
		}
		defer f.Close()
		up.Body = f
		up.Size = fh.Size
		up.Filename = fh.Filename
	}

	name, err := h.ingest.Store(c.Request.Context(), kind, up)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		case errors.Is(err, errs.ErrBridgeMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "Bridge ID mismatch"})
		case errors.Is(err, errs.ErrInvalidIdentifier),
			errors.Is(err, errs.ErrInvalidSegmentName),
			errors.Is(err, errs.ErrInvalidFileName):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		}
		return
	}
	c.JSON(http.StatusOK, model.UploadResponse{Success: true, File: name})
}

// firstFile returns the "file" part, or any single file part when the client used another name.
func firstFile(form *multipart.Form) *multipart.FileHeader {
	if files := form.File["file"]; len(files) > 0 {
		return files[0]
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
