// Package games — repository.go reads the games table.
package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/token-shop/internal/common"
)

// Repository reads games from Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates the games repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByID returns an active game. Unknown and inactive games both yield
// common.ErrGameNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Game, error) {
	query := `
		SELECT id, name, locations, token_packages, active, created_at
		FROM games
		WHERE id = $1 AND active = TRUE
	`
	var (
		g        Game
		packages []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.Locations, &packages, &g.Active, &g.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %d: %w", id, err)
	}

	if err := json.Unmarshal(packages, &g.Packages); err != nil {
		return nil, fmt.Errorf("decode token packages of game %d: %w", id, err)
	}
	return &g, nil
}
