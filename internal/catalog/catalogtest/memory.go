// Package catalogtest provides an in-memory catalog.Store for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"

	"github.com/ReggieReo/devops-question1/internal/catalog"
)

// Store is an in-memory catalog.Store.
type Store struct {
	mu      sync.Mutex
	videos  map[string]catalog.Video
	err     error
	upserts int
}

var _ catalog.Store = (*Store)(nil)

func New(videos ...catalog.Video) *Store {
	s := &Store{videos: map[string]catalog.Video{}}
	for _, v := range videos {
		s.videos[v.ID] = v
	}
	return s
}

// Fail sets the error returned by subsequent calls.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) List(context.Context) ([]catalog.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	out := make([]catalog.Video, 0, len(s.videos))
	for _, v := range s.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (catalog.Video, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return catalog.Video{}, false, s.err
	}
	v, ok := s.videos[id]
	return v, ok, nil
}

func (s *Store) Upsert(_ context.Context, v catalog.Video) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if !catalog.ValidID(v.ID) {
		return false, catalog.ErrInvalidID
	}

	s.upserts++
	if _, ok := s.videos[v.ID]; ok {
		return false, nil
	}
	s.videos[v.ID] = v
	return true, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos)
}

// UpsertCalls returns how many upserts reached the store.
func (s *Store) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}
