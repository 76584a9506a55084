// Package search backs the user directory lookup: Meilisearch when
// configured and healthy, plain SQL matching otherwise.
package search

import (
	"context"
	"log"

	"taskhive/api/internal/store"
)

// UserRecord is the data indexed per user.
type UserRecord struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Service is the facade that tries Meilisearch first and falls back to the
// database. meili may be nil when Meilisearch is not configured.
type Service struct {
	meili    *Meili
	fallback *PgLike
}

func NewService(meili *Meili, fallback *PgLike) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// SearchUsers finds users whose username matches the query string.
func (s *Service) SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error) {
	if s.meili != nil && s.meili.Healthy() {
		users, err := s.meili.SearchUsers(queryString, limit)
		if err == nil {
			return users, nil
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}
	return s.fallback.SearchUsers(ctx, queryString, limit)
}

// IndexUser pushes a user into the search index (fire-and-forget).
func (s *Service) IndexUser(user store.UserDTO) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexUser(UserRecord{ID: user.ID, Username: user.Username}); err != nil {
			log.Printf("search: index user %d: %v", user.ID, err)
		}
	}()
}
