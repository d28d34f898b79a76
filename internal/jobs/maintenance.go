// Package jobs runs periodic relay maintenance: the control-channel liveness sweep,
// media retention and the credential reload.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Hub is the part of the connection registry the jobs close channels through.
type Hub interface {
	CloseStale(maxAge time.Duration) []string
	Evict(bridgeID, reason string) bool
}

// CredentialSyncer reloads cached credentials and returns the ids that were revoked.
type CredentialSyncer interface {
	Sync(ctx context.Context) ([]string, error)
}

// Settings selects the jobs. A zero duration disables the matching job.
type Settings struct {
	Schedule       string // cron spec for the sweep and retention
	StaleAfter     time.Duration
	Retention      time.Duration
	CredentialSync time.Duration
}

const revokedReason = "credentials revoked"

// Maintenance schedules the liveness sweep, segment retention and credential reload on
// one cron.
type Maintenance struct {
	cron    *cron.Cron
	cfg     Settings
	hub     Hub
	store   storage.MediaStore
	creds   CredentialSyncer // optional
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewMaintenance creates the scheduler. Nothing runs until Start.
func NewMaintenance(cfg Settings, hub Hub, store storage.MediaStore, creds CredentialSyncer, m *metrics.Metrics, log *zap.Logger) *Maintenance {
	log = log.Named("jobs")
	cl := cronLogger{log.Sugar()}
	return &Maintenance{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		cfg:     cfg,
		hub:     hub,
		store:   store,
		creds:   creds,
		metrics: m,
		log:     log,
	}
}

// Enabled reports whether any job is configured.
func (m *Maintenance) Enabled() bool {
	return m.sweeping() || m.syncing()
}

func (m *Maintenance) sweeping() bool {
	return m.cfg.StaleAfter > 0 || m.cfg.Retention > 0
}

func (m *Maintenance) syncing() bool {
	return m.creds != nil && m.cfg.CredentialSync > 0
}

// Start schedules the jobs and blocks until ctx is cancelled.
func (m *Maintenance) Start(ctx context.Context) error {
	if !m.Enabled() {
		<-ctx.Done()
		return nil
	}
	if m.sweeping() {
		if _, err := m.cron.AddFunc(m.cfg.Schedule, func() { m.sweep(ctx) }); err != nil {
			return err
		}
	}
	if m.syncing() {
		every := fmt.Sprintf("@every %s", m.cfg.CredentialSync)
		if _, err := m.cron.AddFunc(every, func() { m.SyncCredentials(ctx) }); err != nil {
			return err
		}
	}
	m.log.Info("maintenance scheduled",
		zap.String("schedule", m.cfg.Schedule),
		zap.Duration("stale_after", m.cfg.StaleAfter),
		zap.Duration("retention", m.cfg.Retention),
		zap.Duration("credential_sync", m.cfg.CredentialSync))
	m.cron.Start()

	<-ctx.Done()
	stopped := m.cron.Stop()
	<-stopped.Done()
	return nil
}

// RunOnce runs every enabled job.
func (m *Maintenance) RunOnce(ctx context.Context) {
	m.sweep(ctx)
	if m.syncing() {
		m.SyncCredentials(ctx)
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	if m.cfg.StaleAfter > 0 {
		m.SweepStale()
	}
	if m.cfg.Retention > 0 {
		if _, err := m.ExpireMedia(ctx); err != nil {
			m.log.Error("media retention failed", zap.Error(err))
		}
	}
}

// SweepStale closes control channels that stopped answering pings.
func (m *Maintenance) SweepStale() []string {
	ids := m.hub.CloseStale(m.cfg.StaleAfter)
	if len(ids) > 0 {
		m.log.Info("stale bridges closed", zap.Strings("bridge_ids", ids))
	}
	return ids
}

// ExpireMedia deletes segments older than the retention window.
func (m *Maintenance) ExpireMedia(ctx context.Context) (int, error) {
	n, err := m.store.Sweep(ctx, time.Now().Add(-m.cfg.Retention))
	if n > 0 {
		if m.metrics != nil {
			m.metrics.SegmentsExpired.Add(float64(n))
		}
		m.log.Info("expired segments removed", zap.Int("count", n))
	}
	return n, err
}

// SyncCredentials reloads the credential cache and closes the control channel of every
// bridge whose credential was revoked elsewhere.
func (m *Maintenance) SyncCredentials(ctx context.Context) []string {
	revoked, err := m.creds.Sync(ctx)
	if err != nil {
		m.log.Error("credential sync failed", zap.Error(err))
		return nil
	}
	for _, id := range revoked {
		m.hub.Evict(id, revokedReason)
	}
	if len(revoked) > 0 {
		m.log.Info("revoked bridges evicted", zap.Strings("bridge_ids", revoked))
	}
	return revoked
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
