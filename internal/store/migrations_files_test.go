package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveGooseUpAndDownSections(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.sql$`)
	seen := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected migration file name %q", name)
		}
		if seen[match[1]] {
			t.Fatalf("duplicate migration version %s", match[1])
		}
		seen[match[1]] = true

		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
			t.Fatalf("%s must include both goose Up and Down sections", name)
		}
	}
	if len(seen) == 0 {
		t.Fatal("no migrations discovered")
	}
}

func TestInitMigrationCreatesEveryCollection(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	text := string(body)
	for _, table := range []string{"users", "projects", "test_cases", "test_executions", "bugs"} {
		if !strings.Contains(text, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("expected migration to create %s", table)
		}
	}
	if !strings.Contains(text, "email         TEXT NOT NULL UNIQUE") {
		t.Fatal("expected unique email column on users")
	}
}

func TestApplyMigrationsWrapsGooseError(t *testing.T) {
	original := gooseUp
	t.Cleanup(func() { gooseUp = original })

	boom := errors.New("boom")
	var gotDir string
	gooseUp = func(_ context.Context, _ *sql.DB, dir string) error {
		gotDir = dir
		return boom
	}

	err := ApplyMigrations(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped goose error, got %v", err)
	}
	if gotDir != migrationsDir {
		t.Fatalf("expected dir %q, got %q", migrationsDir, gotDir)
	}
}
