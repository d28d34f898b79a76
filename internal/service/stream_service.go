package service

import (
	"context"
	"errors"

	"github.com/psds-microservice/bridge-relay/internal/errs"
	"github.com/psds-microservice/bridge-relay/internal/storage"
)

// StreamService resolves playlist and segment requests against the media store.
type StreamService struct {
	store storage.MediaStore
}

func NewStreamService(store storage.MediaStore) *StreamService {
	return &StreamService{store: store}
}

// Open validates the request path and opens the object. Invalid names are rejected
// before the store is touched. The caller must close the returned object.
func (s *StreamService) Open(ctx context.Context, bridgeID, cameraID, file string) (storage.Object, storage.Info, error) {
	if !ValidIdentifier(bridgeID) || !ValidIdentifier(cameraID) {
		return nil, storage.Info{}, errs.ErrInvalidIdentifier
	}
	if file != PlaylistName && !ValidSegmentName(file) {
		return nil, storage.Info{}, errs.ErrInvalidSegmentName
	}

	key := storage.Key(bridgeID, cameraID, file)
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, storage.Info{}, err
	}
	if !ok {
		return nil, storage.Info{}, errs.ErrMediaNotFound
	}
	obj, info, err := s.store.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.Info{}, errs.ErrMediaNotFound
	}
	if err != nil {
		return nil, storage.Info{}, err
	}
	return obj, info, nil
}
