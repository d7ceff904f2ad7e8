// Package metadata serves read-only queries over the video catalog.
package metadata

import (
	"context"
	"fmt"

	"github.com/ReggieReo/devops-question1/internal/catalog"
)

// Service reads straight from the catalog on every call; nothing is cached.
type Service struct {
	store catalog.Store
}

func NewService(store catalog.Store) *Service {
	return &Service{store: store}
}

// List returns every catalogued video in no particular order.
func (s *Service) List(ctx context.Context) ([]catalog.Video, error) {
	videos, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	if videos == nil {
		videos = []catalog.Video{}
	}
	return videos, nil
}

// Get looks up one video. ok is false when it does not exist.
func (s *Service) Get(ctx context.Context, id string) (catalog.Video, bool, error) {
	v, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return catalog.Video{}, false, fmt.Errorf("get video %s: %w", id, err)
	}
	return v, ok, nil
}
