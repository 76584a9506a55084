package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"taskhive/api/internal/store"
)

const idxUsers = "taskhive_users"

// Meili indexes and searches the user directory via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the users index.
// The client is returned even when the initial connection fails; the health
// loop will pick Meilisearch up once it becomes reachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxUsers,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxUsers, err)
	}

	index := m.client.Index(idxUsers)
	searchable := []string{"username"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxUsers, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchUsers queries the users index.
func (m *Meili) SearchUsers(queryString string, limit int) ([]store.UserDTO, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxUsers).Search(queryString, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	users := make([]store.UserDTO, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		var rec UserRecord
		if err := decodeHit(hit, &rec); err != nil {
			continue
		}
		users = append(users, store.UserDTO{ID: rec.ID, Username: rec.Username})
	}
	return users, nil
}

// IndexUser adds or updates a user in the search index.
func (m *Meili) IndexUser(rec UserRecord) error {
	_, err := m.client.Index(idxUsers).AddDocuments([]UserRecord{rec}, nil)
	return err
}

func decodeHit(hit meili.Hit, out *UserRecord) error {
	raw, err := json.Marshal(hit)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
