package service

import (
	"context"
	"errors"

	"github.com/psds-microservice/bridge-relay/internal/errs"
	"go.uber.org/zap"
)

// AutoRegisteredName is the display name given to bridges enrolled on first connect.
const AutoRegisteredName = "Auto-registered Bridge"

// KeyValidator checks a bridge key against persisted records. It returns
// errs.ErrBridgeNotFound when no record exists.
type KeyValidator interface {
	ValidateKey(ctx context.Context, bridgeID, apiKey string) (bool, error)
}

// Authenticator validates bridge credentials for uploads and control channels. A bridge
// is known if the credential store or the bridge records have it; the record key seeds
// the store on first use.
type Authenticator struct {
	creds   *CredentialStore
	records KeyValidator // optional
	log     *zap.Logger
}

// NewAuthenticator creates an authenticator. records may be nil.
func NewAuthenticator(creds *CredentialStore, records KeyValidator, log *zap.Logger) *Authenticator {
	return &Authenticator{creds: creds, records: records, log: log.Named("auth")}
}

// Authenticate checks upload credentials. It returns errs.ErrMissingCredentials or
// errs.ErrInvalidCredentials on failure.
func (a *Authenticator) Authenticate(ctx context.Context, bridgeID, apiKey string) error {
	err := a.check(ctx, bridgeID, apiKey)
	if errors.Is(err, errs.ErrBridgeNotFound) {
		a.log.Warn("unknown bridge id", zap.String("bridge_id", bridgeID))
		return errs.ErrInvalidCredentials
	}
	return err
}

// AuthenticateChannel checks control channel credentials. With autoRegister, a bridge id
// unknown to both the credential store and the records is enrolled with the presented
// key. Ids that exist anywhere, including revoked ones, are never re-keyed.
func (a *Authenticator) AuthenticateChannel(ctx context.Context, bridgeID, apiKey string, autoRegister bool) error {
	err := a.check(ctx, bridgeID, apiKey)
	if !errors.Is(err, errs.ErrBridgeNotFound) {
		return err
	}
	if !autoRegister {
		a.log.Warn("unknown bridge id", zap.String("bridge_id", bridgeID))
		return errs.ErrInvalidCredentials
	}
	enrolled, err := a.creds.Enroll(ctx, bridgeID, apiKey, AutoRegisteredName)
	if err != nil {
		a.log.Error("auto-register failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		return errs.ErrInvalidCredentials
	}
	if enrolled {
		a.log.Info("bridge auto-registered", zap.String("bridge_id", bridgeID))
		return nil
	}
	// Claimed concurrently or revoked: only the stored key is accepted.
	if err := a.check(ctx, bridgeID, apiKey); err != nil {
		a.log.Warn("auto-register refused", zap.String("bridge_id", bridgeID))
		return errs.ErrInvalidCredentials
	}
	return nil
}

// check returns errs.ErrBridgeNotFound when neither store knows bridgeID.
func (a *Authenticator) check(ctx context.Context, bridgeID, apiKey string) error {
	if bridgeID == "" || apiKey == "" {
		return errs.ErrMissingCredentials
	}
	c, ok, err := a.creds.Resolve(ctx, bridgeID)
	if err != nil {
		a.log.Error("credential lookup failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		return errs.ErrInvalidCredentials
	}
	if ok {
		if KeysEqual(c.APIKey, apiKey) {
			return nil
		}
		a.log.Warn("invalid api key", zap.String("bridge_id", bridgeID))
		return errs.ErrInvalidCredentials
	}
	if a.records == nil {
		return errs.ErrBridgeNotFound
	}

	valid, err := a.records.ValidateKey(ctx, bridgeID, apiKey)
	switch {
	case errors.Is(err, errs.ErrBridgeNotFound):
		return errs.ErrBridgeNotFound
	case err != nil:
		a.log.Error("bridge record lookup failed", zap.String("bridge_id", bridgeID), zap.Error(err))
		return errs.ErrInvalidCredentials
	case !valid:
		a.log.Warn("invalid api key", zap.String("bridge_id", bridgeID))
		return errs.ErrInvalidCredentials
	}
	if _, err := a.creds.Enroll(ctx, bridgeID, apiKey, defaultDisplayName(bridgeID)); err != nil {
		a.log.Warn("seed credential from record failed", zap.String("bridge_id", bridgeID), zap.Error(err))
	}
	return nil
}
