package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/events"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/storage"
	"go.uber.org/zap"
)

// UploadKind distinguishes segment and manifest uploads.
type UploadKind string

const (
	KindSegment  UploadKind = "segment"
	KindManifest UploadKind = "manifest"
)

// StatusMarker records a successful upload against the bridge's persisted record.
type StatusMarker interface {
	MarkOnline(ctx context.Context, bridgeID string) error
}

// Upload is an authenticated upload request. BridgeID comes from the request headers;
// FormBridgeID from the multipart body.
type Upload struct {
	BridgeID     string
	FormBridgeID string
	CameraID     string
	Filename     string
	Body         io.Reader
	Size         int64
}

// IngestService stores uploaded segments and playlists.
type IngestService struct {
	store   storage.MediaStore
	marker  StatusMarker // optional
	metrics *metrics.Metrics
	events  events.Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewIngestService creates the ingestion service. marker may be nil; events default to a
// no-op publisher.
func NewIngestService(store storage.MediaStore, marker StatusMarker, log *zap.Logger) *IngestService {
	return &IngestService{
		store:  store,
		marker: marker,
		events: events.Nop{},
		log:    log.Named("ingest"),
		now:    time.Now,
	}
}

// SetMetrics enables upload counters.
func (s *IngestService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetPublisher sets where media.uploaded events go.
func (s *IngestService) SetPublisher(p events.Publisher) { s.events = p }

// Store validates up and writes it to <bridgeId>/<cameraId>/<filename>. It returns the
// stored file name. Every manifest is stored as PlaylistName, the only playlist stream
// serving reads. Validation failures never reach the store.
func (s *IngestService) Store(ctx context.Context, kind UploadKind, up Upload) (string, error) {
	name, err := s.validate(kind, up)
	if err != nil {
		s.count(kind, "rejected")
		return "", err
	}

	key := storage.Key(up.BridgeID, up.CameraID, name)
	if err := s.store.Put(ctx, key, up.Body, up.Size, storage.ContentTypeFor(name)); err != nil {
		s.count(kind, "error")
		s.log.Error("store upload failed",
			zap.String("bridge_id", up.BridgeID), zap.String("camera_id", up.CameraID),
			zap.String("file", name), zap.Error(err))
		return "", fmt.Errorf("store %s: %w", name, err)
	}

	if s.marker != nil {
		if err := s.marker.MarkOnline(ctx, up.BridgeID); err != nil {
			s.log.Warn("mark bridge online failed", zap.String("bridge_id", up.BridgeID), zap.Error(err))
		}
	}
	s.count(kind, "ok")
	if s.metrics != nil && up.Size > 0 {
		s.metrics.UploadBytes.WithLabelValues(string(kind)).Add(float64(up.Size))
	}
	s.log.Debug("upload stored",
		zap.String("bridge_id", up.BridgeID), zap.String("camera_id", up.CameraID), zap.String("file", name))
	s.events.Publish(ctx, events.Event{
		Type:      events.TypeMediaUploaded,
		BridgeID:  up.BridgeID,
		CameraID:  up.CameraID,
		File:      name,
		Size:      up.Size,
		Timestamp: s.now(),
	})
	return name, nil
}

func (s *IngestService) validate(kind UploadKind, up Upload) (string, error) {
	if up.CameraID == "" || up.FormBridgeID == "" || up.Body == nil {
		return "", errs.ErrMissingFields
	}
	if up.FormBridgeID != up.BridgeID {
		s.log.Warn("upload bridge id mismatch",
			zap.String("bridge_id", up.BridgeID), zap.String("form_bridge_id", up.FormBridgeID))
		return "", errs.ErrBridgeMismatch
	}
	if !ValidIdentifier(up.BridgeID) || !ValidIdentifier(up.CameraID) {
		return "", errs.ErrInvalidIdentifier
	}

	name := up.Filename
	switch kind {
	case KindManifest:
		if name != "" && !ValidManifestName(name) {
			return "", errs.ErrInvalidFileName
		}
		name = PlaylistName
	default:
		if name == "" {
			name = "segment_" + strconv.FormatInt(s.now().UnixMilli(), 10) + ".ts"
		}
		if !ValidSegmentName(name) {
			return "", errs.ErrInvalidSegmentName
		}
	}
	return name, nil
}

func (s *IngestService) count(kind UploadKind, result string) {
	if s.metrics != nil {
		s.metrics.Uploads.WithLabelValues(string(kind), result).Inc()
	}
}
