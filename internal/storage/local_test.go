package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "streams"))
	require.NoError(t, err)
	return s
}

func TestLocalStorePutOpen(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := Key("bridge-1", "cam-1", "segment_1.ts")

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, strings.NewReader("payload"), 7, ContentTypeSegment))

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	obj, info, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, ContentTypeSegment, info.ContentType)

	_, isSeeker := obj.(io.Seeker)
	assert.True(t, isSeeker)
	assert.FileExists(t, filepath.Join(s.Root(), "bridge-1", "cam-1", "segment_1.ts"))
}

func TestLocalStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := Key("b", "c", "playlist.m3u8")

	require.NoError(t, s.Put(ctx, key, strings.NewReader("#EXTM3U\n#1"), 0, ContentTypePlaylist))
	require.NoError(t, s.Put(ctx, key, strings.NewReader("#EXTM3U\n#2"), 0, ContentTypePlaylist))

	obj, _, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer obj.Close()
	body, _ := io.ReadAll(obj)
	assert.Equal(t, "#EXTM3U\n#2", string(body))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "b", "c"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalStoreOpenMissing(t *testing.T) {
	s := newLocal(t)
	_, _, err := s.Open(context.Background(), Key("b", "c", "segment_9.ts"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	old := Key("b", "c", "segment_1.ts")
	fresh := Key("b", "c", "segment_2.ts")
	playlist := Key("b", "c", "playlist.m3u8")
	for _, k := range []string{old, fresh, playlist} {
		require.NoError(t, s.Put(ctx, k, strings.NewReader("x"), 1, ContentTypeFor(k)))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "b", "c", "segment_1.ts"), past, past))
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "b", "c", "playlist.m3u8"), past, past))

	removed, err := s.Sweep(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for k, want := range map[string]bool{old: false, fresh: true, playlist: true} {
		ok, err := s.Exists(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, ok, k)
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, ContentTypePlaylist, ContentTypeFor("playlist.M3U8"))
	assert.Equal(t, ContentTypeSegment, ContentTypeFor("segment_1.ts"))
	assert.Equal(t, ContentTypeOctetData, ContentTypeFor("notes.txt"))
}

func TestNewS3StoreDefaults(t *testing.T) {
	s, err := NewS3Store(S3Config{AccessKey: "k", SecretKey: "s", Bucket: "media", Endpoint: "https://example.r2.cloudflarestorage.com"})
	require.NoError(t, err)
	assert.Equal(t, "media", s.bucket)
	assert.Equal(t, "auto", *s.client.Config.Region)
}
