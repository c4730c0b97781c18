package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrWong99/speechcoach/internal/kv"
	"github.com/MrWong99/speechcoach/internal/kv/sqlite"
)

func openTemp(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "stats.db")
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestStore_GetPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	if _, err := s.Get(ctx, "alex", "speechPracticeStats"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get on empty db: err = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "alex", "speechPracticeStats", []byte(`{"xp":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "alex", "speechPracticeStats", []byte(`{"xp":2}`)); err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	got, err := s.Get(ctx, "alex", "speechPracticeStats")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"xp":2}` {
		t.Errorf("Get = %s, want {\"xp\":2}", got)
	}
	if _, err := s.Get(ctx, "sam", "speechPracticeStats"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("profile isolation broken: err = %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, path := openTemp(t)
	if err := s.Put(ctx, "alex", "lastPracticeDate", []byte("2026-10-14")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "alex", "lastPracticeDate")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "2026-10-14" {
		t.Errorf("Get = %q, want 2026-10-14", got)
	}
}

func TestOpen_InMemory(t *testing.T) {
	t.Parallel()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer s.Close()
	if err := s.Put(context.Background(), "p", "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
}
