package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStorage is an in-process Storage used for local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	urls    URLBuilder
	now     func() time.Time
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(urls URLBuilder) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		urls:    urls,
		now:     time.Now,
	}
}

func (s *MemoryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object %q: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("object %q: expected %d bytes, got %d", key, size, len(data))
	}
	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, contentType: contentType, modified: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Open(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			LastModified: obj.modified,
		},
		Body: io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (s *MemoryStorage) List(ctx context.Context, before time.Time) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObjectInfo, 0, len(s.objects))
	for key, obj := range s.objects {
		if !obj.modified.Before(before) {
			continue
		}
		out = append(out, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			LastModified: obj.modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (s *MemoryStorage) PublicURL(key string) string {
	return s.urls.FileURL(key)
}

// Has reports whether key is stored.
func (s *MemoryStorage) Has(key string) bool {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// SetClock overrides the modification timestamp source.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
