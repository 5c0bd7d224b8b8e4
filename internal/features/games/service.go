// Package games — service.go validates purchase targets against the catalog.
package games

import (
	"context"

	"serotonyl.ru/token-shop/internal/common"
)

// Store is the catalog lookup the service needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*Game, error)
}

// Service validates games, packages and locations.
type Service struct {
	store Store
}

// NewService creates the catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve validates (game, package index, location) and returns the price,
// the token quantity and the catalog spelling of the location.
func (s *Service) Resolve(ctx context.Context, gameID int64, packageIndex int, location string) (*Selection, error) {
	g, err := s.store.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}

	pkg, err := g.Package(packageIndex)
	if err != nil {
		return nil, err
	}

	loc, ok := g.Location(location)
	if !ok {
		return nil, common.ErrLocationUnavailable
	}

	return &Selection{Game: g, Package: pkg, Location: loc}, nil
}

// ResolveLocation validates a (game, location) pair without a package.
func (s *Service) ResolveLocation(ctx context.Context, gameID int64, location string) (*Game, string, error) {
	g, err := s.store.GetByID(ctx, gameID)
	if err != nil {
		return nil, "", err
	}
	loc, ok := g.Location(location)
	if !ok {
		return nil, "", common.ErrLocationUnavailable
	}
	return g, loc, nil
}
