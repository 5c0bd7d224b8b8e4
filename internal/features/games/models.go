// Package games is the read-only game catalog: which token packages a game
// sells and at which locations it is offered.
// models.go describes games and their token packages.
package games

import (
	"time"

	"serotonyl.ru/token-shop/internal/common"
)

// TokenPackage is one purchasable bundle of tokens.
type TokenPackage struct {
	Tokens     int64 `json:"tokens"`      // tokens credited for this package
	PriceCents int64 `json:"price_cents"` // price in minor currency units
}

// Game is a catalog entry.
type Game struct {
	ID        int64          `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Locations []string       `db:"locations" json:"locations"`
	Packages  []TokenPackage `db:"token_packages" json:"token_packages"`
	Active    bool           `db:"active" json:"active"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Package returns the package at index i.
func (g *Game) Package(i int) (TokenPackage, error) {
	if i < 0 || i >= len(g.Packages) {
		return TokenPackage{}, common.ErrInvalidPackage
	}
	p := g.Packages[i]
	if p.Tokens <= 0 || p.PriceCents <= 0 {
		return TokenPackage{}, common.ErrInvalidPackage
	}
	return p, nil
}

// Location returns the catalog spelling of name when the game is offered
// there. Matching ignores case, accents and extra whitespace.
func (g *Game) Location(name string) (string, bool) {
	want := common.NormalizeLocationName(name)
	if want == "" {
		return "", false
	}
	for _, l := range g.Locations {
		if common.NormalizeLocationName(l) == want {
			return l, true
		}
	}
	return "", false
}

// Selection is a validated purchase target.
type Selection struct {
	Game     *Game
	Package  TokenPackage
	Location string // catalog spelling
}
