package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/psds-microservice/bridge-relay/internal/storage"
)

// memStore is an in-memory MediaStore that counts every call.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	putErr  error
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = b
	m.mu.Unlock()
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Open(_ context.Context, key string) (storage.Object, storage.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.Info{}, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), storage.Info{Size: int64(len(b)), ContentType: storage.ContentTypeFor(key)}, nil
}

func (m *memStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("not supported")
}

func (m *memStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
