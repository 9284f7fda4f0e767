// Package memory provides an in-process document store used in tests and
// single-node development runs.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/palengke/marketplace/internal/store"
)

// Store keeps every collection in a map guarded by one mutex, which makes
// each operation trivially atomic.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.data[collection][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, nil
}

func (s *Store) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(collection, key, doc)
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, collection, key string, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current json.RawMessage
	if doc, ok := s.data[collection][key]; ok {
		current = make(json.RawMessage, len(doc))
		copy(current, doc)
	}

	next, err := fn(current)
	if err != nil {
		if errors.Is(err, store.ErrUnchanged) {
			return nil
		}
		return err
	}

	s.put(collection, key, next)
	return nil
}

func (s *Store) BatchWrite(ctx context.Context, writes []store.Write) error {
	if len(writes) > store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		if w.Doc == nil {
			delete(s.data[w.Collection], w.Key)
			continue
		}
		s.put(w.Collection, w.Key, w.Doc)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[collection], key)
	return nil
}

// put stores a copy of doc. Callers must hold s.mu.
func (s *Store) put(collection, key string, doc json.RawMessage) {
	col, ok := s.data[collection]
	if !ok {
		col = make(map[string][]byte)
		s.data[collection] = col
	}
	stored := make([]byte, len(doc))
	copy(stored, doc)
	col[key] = stored
}
