// Package memory keeps documents in process; it backs tests and the API when no DSN is set.
package memory

import (
	"context"
	"sort"
	"sync"

	"tovus.net/evalflow/internal/approval"
)

type Documents struct {
	mu   sync.RWMutex
	docs map[string]approval.Document
}

func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]approval.Document)}
}

func (s *Documents) Create(ctx context.Context, d approval.Document) (approval.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[d.ID]; ok {
		return approval.Document{}, approval.ErrConflict
	}
	d.Version = 1
	s.docs[d.ID] = d.Clone()
	return d, nil
}

func (s *Documents) Get(ctx context.Context, id string) (approval.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return approval.Document{}, approval.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Documents) List(ctx context.Context, f approval.Filter) ([]approval.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]approval.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if f.Match(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Commit replaces the document if its stored version equals expected.
func (s *Documents) Commit(ctx context.Context, d approval.Document, expected int64) (approval.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[d.ID]
	if !ok {
		return approval.Document{}, approval.ErrNotFound
	}
	if cur.Version != expected {
		return approval.Document{}, approval.ErrConflict
	}
	d.Version = expected + 1
	s.docs[d.ID] = d.Clone()
	return d, nil
}

func (s *Documents) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return approval.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}
