package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// FakeStore is an in-process Store used by worker tests, mirroring
// the in-memory fake pattern used for the job queue
// (internal/queue/fake_queue.go) rather than standing up a real
// Supabase project for unit tests.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewFakeStore builds an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{objects: make(map[string][]byte)}
}

func (f *FakeStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[path] = cp
	return nil
}

func (f *FakeStore) Download(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("objectstore: no object at %s", path)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (f *FakeStore) Delete(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}
