// Package kv holds the flat key/value channels nodes use to exchange data:
// the peer channel every unit announces itself on and the client channel the
// leader publishes connection info to.
package kv

import (
	"context"
	"strings"
	"sync"
)

// Bag is a shared string key/value space. Keys are slash separated paths.
type Bag interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix together with its value.
	List(ctx context.Context, prefix string) (map[string]string, error)
	// Watch signals on the returned channel whenever a key under prefix is
	// created, changed or deleted. The channel is closed when ctx is done.
	Watch(ctx context.Context, prefix string) <-chan struct{}
}

type watcher struct {
	prefix string
	ch     chan struct{}
}

// Store is an in-memory Bag. It backs standalone deployments and tests.
type Store struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[*watcher]struct{}
}

func NewStore() *Store {
	return &Store{
		data:     make(map[string]string),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// rewriting the same value is not a change
	if old, ok := s.data[key]; ok && old == value {
		return nil
	}
	s.data[key] = value
	s.notify(key)
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	s.notify(key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, prefix string) <-chan struct{} {
	w := &watcher{prefix: prefix, ch: make(chan struct{}, 1)}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, w)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// notify must be called with s.mu held.
func (s *Store) notify(key string) {
	for w := range s.watchers {
		if !strings.HasPrefix(key, w.prefix) {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
			// a signal is already pending
		}
	}
}
