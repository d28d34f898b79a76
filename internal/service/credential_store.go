package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/bridge-relay/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credential is a bridge id to API key mapping.
type Credential struct {
	BridgeID    string
	APIKey      string
	DisplayName string
	CreatedAt   time.Time
}

type credEntry struct {
	Credential
	epoch uint64 // sync generation that last wrote the entry
}

// CredentialStore validates bridge API keys from an in-memory cache. With a database
// attached, mutations are written through, cache misses fall through to the
// bridge_credentials table and Sync reconciles the cache with rows changed by other
// processes. Revoked rows are soft-deleted and stay as tombstones, so a revoked id
// can not be claimed again by auto-registration.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]credEntry
	epoch uint64
	db    *gorm.DB // optional
	log   *zap.Logger
}

// NewCredentialStore creates a store. db may be nil for a purely in-memory store.
func NewCredentialStore(db *gorm.DB, log *zap.Logger) *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]credEntry),
		db:    db,
		log:   log.Named("credentials"),
	}
}

// Load fills the cache from the database.
func (s *CredentialStore) Load(ctx context.Context) error {
	if _, err := s.Sync(ctx); err != nil {
		return err
	}
	s.log.Info("credentials loaded", zap.Int("count", s.Len()))
	return nil
}

// Sync replaces the cache with the live rows in the database and returns the ids that
// were cached but are no longer live (revoked by another process). Entries written while
// the query runs are kept.
func (s *CredentialStore) Sync(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, nil
	}
	s.mu.Lock()
	s.epoch++
	gen := s.epoch
	s.mu.Unlock()

	var rows []model.BridgeCredential
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	live := make(map[string]struct{}, len(rows))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		live[r.BridgeID] = struct{}{}
		if cur, ok := s.creds[r.BridgeID]; ok && cur.epoch > gen {
			continue
		}
		s.creds[r.BridgeID] = credEntry{Credential: fromRow(r), epoch: gen}
	}
	var removed []string
	for id, e := range s.creds {
		if _, ok := live[id]; !ok && e.epoch <= gen {
			delete(s.creds, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Register upserts the credential for bridgeID. Last write wins. Used for provisioning,
// where the caller owns the id.
func (s *CredentialStore) Register(bridgeID, apiKey, name string) {
	c := Credential{BridgeID: bridgeID, APIKey: apiKey, DisplayName: name, CreatedAt: time.Now()}
	if s.db != nil {
		row := toRow(c)
		err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
		if err != nil {
			s.log.Error("persist credential failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		}
	}
	// Cached after the write so a concurrent Sync can not prune it.
	s.put(c)
	s.log.Info("bridge credentials registered", zap.String("bridge_id", bridgeID), zap.String("name", name))
}

// Enroll claims bridgeID for apiKey only if no credential exists for it, live or revoked.
// It returns false when the id was already claimed; a live persisted key is then cached,
// never the presented one.
func (s *CredentialStore) Enroll(ctx context.Context, bridgeID, apiKey, name string) (bool, error) {
	c := Credential{BridgeID: bridgeID, APIKey: apiKey, DisplayName: name, CreatedAt: time.Now()}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.creds[bridgeID]; ok {
			return false, nil
		}
		s.creds[bridgeID] = credEntry{Credential: c, epoch: s.epoch + 1}
		return true, nil
	}

	row := toRow(c)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("enroll credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, _, err := s.Resolve(ctx, bridgeID); err != nil {
			return false, err
		}
		return false, nil
	}
	s.put(c)
	s.log.Info("bridge credentials enrolled", zap.String("bridge_id", bridgeID), zap.String("name", name))
	return true, nil
}

// Resolve returns the credential for bridgeID, reading the live row from the database on
// a cache miss.
func (s *CredentialStore) Resolve(ctx context.Context, bridgeID string) (Credential, bool, error) {
	if c, ok := s.Get(bridgeID); ok || s.db == nil {
		return c, ok, nil
	}
	var row model.BridgeCredential
	err := s.db.WithContext(ctx).First(&row, "bridge_id = ?", bridgeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("lookup credential: %w", err)
	}
	c := fromRow(row)
	s.put(c)
	return c, true, nil
}

// Validate compares apiKey with the cached key in constant time. Unknown ids and any
// mismatch return false; the key itself is never logged.
func (s *CredentialStore) Validate(bridgeID, apiKey string) bool {
	c, ok := s.Get(bridgeID)
	if !ok {
		s.log.Warn("unknown bridge id", zap.String("bridge_id", bridgeID))
		return false
	}
	if !KeysEqual(c.APIKey, apiKey) {
		s.log.Warn("invalid api key", zap.String("bridge_id", bridgeID))
		return false
	}
	return true
}

// Get returns the cached credential for bridgeID.
func (s *CredentialStore) Get(bridgeID string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.creds[bridgeID]
	return e.Credential, ok
}

// Len returns the number of cached credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// List returns a snapshot ordered by bridge id.
func (s *CredentialStore) List() []Credential {
	s.mu.RLock()
	out := make([]Credential, 0, len(s.creds))
	for _, e := range s.creds {
		out = append(out, e.Credential)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BridgeID < out[j].BridgeID })
	return out
}

// Remove revokes the credential for bridgeID. The persisted row is soft-deleted.
func (s *CredentialStore) Remove(bridgeID string) {
	s.mu.Lock()
	delete(s.creds, bridgeID)
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Delete(&model.BridgeCredential{}, "bridge_id = ?", bridgeID).Error; err != nil {
			s.log.Error("delete credential failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		}
	}
	s.log.Info("bridge credentials removed", zap.String("bridge_id", bridgeID))
}

func (s *CredentialStore) put(c Credential) {
	s.mu.Lock()
	s.creds[c.BridgeID] = credEntry{Credential: c, epoch: s.epoch + 1}
	s.mu.Unlock()
}

func toRow(c Credential) model.BridgeCredential {
	return model.BridgeCredential{
		BridgeID:    c.BridgeID,
		APIKey:      c.APIKey,
		DisplayName: c.DisplayName,
		CreatedAt:   c.CreatedAt,
	}
}

func fromRow(r model.BridgeCredential) Credential {
	return Credential{
		BridgeID:    r.BridgeID,
		APIKey:      r.APIKey,
		DisplayName: r.DisplayName,
		CreatedAt:   r.CreatedAt,
	}
}

// KeysEqual checks length first, then compares bytes in constant time.
func KeysEqual(stored, presented string) bool {
	if len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
