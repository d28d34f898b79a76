// Package storage persists HLS segments and playlists behind a small object interface so the
// relay can keep media on local disk or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by Open when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Content types served for HLS media.
const (
	ContentTypePlaylist  = "application/vnd.apple.mpegurl"
	ContentTypeSegment   = "video/mp2t"
	ContentTypeOctetData = "application/octet-stream"
)

// Info describes a stored object.
type Info struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Object is an open stored object. Backends that can seek (local files, MinIO objects)
// also implement io.Seeker, which lets callers serve byte ranges.
type Object interface {
	io.ReadCloser
}

// MediaStore is the persistence contract used by ingestion and stream serving.
// Keys are slash separated: <bridgeId>/<cameraId>/<filename>.
type MediaStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (Object, Info, error)
	// Sweep deletes segment objects last modified before cutoff and returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Key joins validated path components into an object key.
func Key(bridgeID, cameraID, filename string) string {
	return path.Join(bridgeID, cameraID, filename)
}

// ContentTypeFor returns the HLS content type for a file name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	default:
		return ContentTypeOctetData
	}
}

// IsSegment reports whether a key names a transport-stream segment (the only objects Sweep removes).
func IsSegment(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".ts")
}
