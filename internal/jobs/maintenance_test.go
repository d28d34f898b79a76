package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hubSpy struct {
	maxAge  time.Duration
	ids     []string
	evicted map[string]string
}

func (s *hubSpy) CloseStale(maxAge time.Duration) []string {
	s.maxAge = maxAge
	return s.ids
}

func (s *hubSpy) Evict(bridgeID, reason string) bool {
	if s.evicted == nil {
		s.evicted = make(map[string]string)
	}
	s.evicted[bridgeID] = reason
	return true
}

type syncerStub struct {
	revoked []string
	err     error
	calls   int
}

func (s *syncerStub) Sync(context.Context) ([]string, error) {
	s.calls++
	return s.revoked, s.err
}

func TestMaintenanceRunOnce(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"segment_1.ts", "segment_2.ts", "playlist.m3u8"} {
		require.NoError(t, store.Put(ctx, storage.Key("b", "c", name), strings.NewReader("x"), 1, storage.ContentTypeFor(name)))
	}
	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Root(), "b", "c", "segment_1.ts"), past, past))

	hub := &hubSpy{ids: []string{"b-stale"}}
	creds := &syncerStub{revoked: []string{"b-revoked"}}
	m := metrics.New(prometheus.NewRegistry())
	job := NewMaintenance(Settings{
		Schedule:       "@every 1m",
		StaleAfter:     90 * time.Second,
		Retention:      time.Hour,
		CredentialSync: 30 * time.Second,
	}, hub, store, creds, m, zap.NewNop())
	require.True(t, job.Enabled())

	job.RunOnce(ctx)
	assert.Equal(t, 90*time.Second, hub.maxAge)
	assert.Equal(t, 1, creds.calls)
	assert.Equal(t, map[string]string{"b-revoked": "credentials revoked"}, hub.evicted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentsExpired))

	ok, err := store.Exists(ctx, storage.Key("b", "c", "segment_1.ts"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.Exists(ctx, storage.Key("b", "c", "segment_2.ts"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMaintenanceDisabled(t *testing.T) {
	hub := &hubSpy{}
	job := NewMaintenance(Settings{Schedule: "@every 1m"}, hub, nil, &syncerStub{}, nil, zap.NewNop())
	assert.False(t, job.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, job.Start(ctx))
	assert.Zero(t, hub.maxAge)
}

func TestMaintenanceBadSchedule(t *testing.T) {
	job := NewMaintenance(Settings{Schedule: "not a schedule", StaleAfter: time.Minute}, &hubSpy{}, nil, nil, nil, zap.NewNop())
	assert.Error(t, job.Start(context.Background()))
}

func TestMaintenanceCredentialSyncOnly(t *testing.T) {
	hub := &hubSpy{}
	creds := &syncerStub{revoked: []string{"b1", "b2"}}
	job := NewMaintenance(Settings{CredentialSync: time.Second}, hub, nil, creds, nil, zap.NewNop())
	require.True(t, job.Enabled())

	job.RunOnce(context.Background())
	assert.Zero(t, hub.maxAge)
	assert.Len(t, hub.evicted, 2)
	assert.Equal(t, "credentials revoked", hub.evicted["b2"])
}

func TestMaintenanceCredentialSyncError(t *testing.T) {
	hub := &hubSpy{}
	creds := &syncerStub{revoked: []string{"b1"}, err: errors.New("db down")}
	job := NewMaintenance(Settings{CredentialSync: time.Second}, hub, nil, creds, nil, zap.NewNop())

	assert.Empty(t, job.SyncCredentials(context.Background()))
	assert.Empty(t, hub.evicted)
}
