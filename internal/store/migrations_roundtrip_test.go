package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("DEVQA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DEVQA_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := goose.DownToContext(ctx, db, migrationsDir, 0); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	store := NewPostgresStore(db)
	user := User{ID: "usr_1", Email: "avery@example.com", PasswordHash: "hash", Name: "Avery", Role: "tester", CreatedAt: Now()}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.CreateUser(ctx, user); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on second insert, got %v", err)
	}

	exec := TestExecution{ID: "exec_1", TestCaseID: "tc_1", Status: "running", StartTime: Now(), ExecutedBy: user.ID}
	if err := store.InsertExecution(ctx, exec); err != nil {
		t.Fatalf("InsertExecution() error = %v", err)
	}
	if err := store.AppendExecutionLog(ctx, exec.ID, "line one"); err != nil {
		t.Fatalf("AppendExecutionLog() error = %v", err)
	}
	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if len(got.Logs) != 1 || got.Logs[0] != "line one" {
		t.Fatalf("unexpected logs: %#v", got.Logs)
	}
}
