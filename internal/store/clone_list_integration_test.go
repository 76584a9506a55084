package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestCloneListCopiesItems verifies the deep copy: the clone carries one item
// per source item with descriptions and due dates intact, authorship and
// completion reset, while the source list is left untouched.
func TestCloneListCopiesItems(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	suffix := time.Now().UnixNano()
	author, err := s.CreateUser(ctx, fmt.Sprintf("clone_author_%d", suffix), "x")
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	cloner, err := s.CreateUser(ctx, fmt.Sprintf("clone_cloner_%d", suffix), "x")
	if err != nil {
		t.Fatalf("create cloner: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM users WHERE id IN ($1, $2)`, author.ID, cloner.ID)
	}()

	src, err := s.CreateList(ctx, author.ID, "groceries", nil)
	if err != nil {
		t.Fatalf("create source list: %v", err)
	}
	defer func() { _ = s.DeleteList(ctx, src.ID) }()

	dueDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	first, err := s.CreateItem(ctx, author.ID, src.ID, "buy milk", &dueDate)
	if err != nil {
		t.Fatalf("create first item: %v", err)
	}
	if _, err := s.CreateItem(ctx, author.ID, src.ID, "water plants", nil); err != nil {
		t.Fatalf("create second item: %v", err)
	}
	// a completed source item must clone back to incomplete
	completed := true
	if _, err := s.UpdateItem(ctx, first.ID, ItemPatch{Completed: &completed}); err != nil {
		t.Fatalf("complete first item: %v", err)
	}

	cloned, err := s.CloneList(ctx, src.ID, cloner.ID, "groceries")
	if err != nil {
		t.Fatalf("CloneList() error = %v", err)
	}
	defer func() { _ = s.DeleteList(ctx, cloned.ID) }()

	if cloned.ID == src.ID {
		t.Fatal("clone must be a new list")
	}
	if cloned.Author.ID != cloner.ID || cloned.Role != "owner" {
		t.Fatalf("clone authorship = %d role = %q, want cloner %d as owner", cloned.Author.ID, cloned.Role, cloner.ID)
	}

	items, err := s.ListItems(ctx, cloned.ID)
	if err != nil {
		t.Fatalf("list cloned items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("cloned items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.AuthorID != cloner.ID {
			t.Fatalf("cloned item %d author = %d, want %d", item.ID, item.AuthorID, cloner.ID)
		}
		if item.TodoListID != cloned.ID {
			t.Fatalf("cloned item %d list = %d, want %d", item.ID, item.TodoListID, cloned.ID)
		}
		if item.Completed {
			t.Fatalf("cloned item %d must start incomplete", item.ID)
		}
	}
	if items[0].Description != "buy milk" || items[1].Description != "water plants" {
		t.Fatalf("cloned descriptions = %q, %q", items[0].Description, items[1].Description)
	}
	if items[0].DueDate == nil || items[0].DueDate.UTC().Format("2006-01-02") != "2026-09-01" {
		t.Fatalf("cloned due date = %v, want 2026-09-01", items[0].DueDate)
	}
	if items[1].DueDate != nil {
		t.Fatalf("second cloned item due date = %v, want nil", items[1].DueDate)
	}

	srcItems, err := s.ListItems(ctx, src.ID)
	if err != nil {
		t.Fatalf("list source items: %v", err)
	}
	if len(srcItems) != 2 || !srcItems[0].Completed {
		t.Fatalf("source items changed: %+v", srcItems)
	}
}

// testDatabaseURL returns the connection string for integration tests. It
// honors TEST_DATABASE_URL first, then the standard Postgres environment
// variables with local development defaults.
func testDatabaseURL() string {
	if url := getenvDefault("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := getenvDefault("POSTGRES_USER", "taskhive")
	pass := getenvDefault("POSTGRES_PASSWORD", "taskhive")
	dbname := getenvDefault("POSTGRES_DB", "taskhive_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenvDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
