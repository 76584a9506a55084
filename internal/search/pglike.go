package search

import (
	"context"

	"taskhive/api/internal/store"
)

// userSearcher is the database-side user lookup the fallback delegates to.
type userSearcher interface {
	SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error)
}

// PgLike is the always-available fallback: ILIKE matching in Postgres.
type PgLike struct {
	store userSearcher
}

func NewPgLike(s userSearcher) *PgLike {
	return &PgLike{store: s}
}

func (p *PgLike) SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error) {
	return p.store.SearchUsers(ctx, queryString, limit)
}
