// Package tokens — service.go builds balance snapshots and validates
// administrative adjustments.
package tokens

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/features/games"
)

// Store is the persistence the service needs.
type Store interface {
	ListBalances(ctx context.Context, userID string) ([]*Balance, error)
	ListPending(ctx context.Context, userID string) ([]*Pending, error)
	Adjust(ctx context.Context, adj Adjustment) (*AdjustResult, error)
}

// Catalog validates the (game, location) pair of an adjustment.
type Catalog interface {
	ResolveLocation(ctx context.Context, gameID int64, location string) (*games.Game, string, error)
}

// Service exposes balances to users and adjustments to admins.
type Service struct {
	store   Store
	catalog Catalog
}

// NewService creates the token service.
func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// Balances returns one snapshot per (game, location) the user holds tokens
// for or has scheduled purchases at. pendingTokens counts paid purchases
// whose credit waits for the release time.
func (s *Service) Balances(ctx context.Context, userID string) ([]*Snapshot, error) {
	balances, err := s.store.ListBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}

	type key struct {
		gameID   int64
		location string
	}
	byKey := make(map[key]*Snapshot)
	for _, b := range balances {
		byKey[key{b.GameID, b.Location}] = &Snapshot{GameID: b.GameID, Location: b.Location, Tokens: b.Tokens}
	}
	for _, p := range pending {
		k := key{p.GameID, p.Location}
		snap, ok := byKey[k]
		if !ok {
			snap = &Snapshot{GameID: p.GameID, Location: p.Location}
			byKey[k] = snap
		}
		snap.PendingTokens += p.Tokens
		at := p.ScheduledFor
		if snap.TokensScheduledFor == nil || at.Before(*snap.TokensScheduledFor) {
			snap.TokensScheduledFor = &at
		}
	}

	out := make([]*Snapshot, 0, len(byKey))
	for _, snap := range byKey {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GameID != out[j].GameID {
			return out[i].GameID < out[j].GameID
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

// Adjust applies an administrative correction. The balance never drops
// below zero; the applied delta is returned.
func (s *Service) Adjust(ctx context.Context, adj Adjustment) (*AdjustResult, error) {
	if adj.Delta == 0 {
		return nil, common.ErrInvalidAmount
	}

	_, location, err := s.catalog.ResolveLocation(ctx, adj.GameID, adj.Location)
	if err != nil {
		return nil, err
	}
	adj.Location = location
	if adj.Reason == "" {
		adj.Reason = "manual adjustment"
	}

	res, err := s.store.Adjust(ctx, adj)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":   adj.UserID,
		"game_id":   adj.GameID,
		"location":  adj.Location,
		"requested": adj.Delta,
		"applied":   res.Applied,
		"balance":   res.Balance.Tokens,
	}).Info("tokens: balance adjusted")
	return res, nil
}
