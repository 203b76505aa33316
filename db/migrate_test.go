package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// cleanDatabase drops all application tables plus golang-migrate's bookkeeping
// so each migration test starts from an empty schema.
func cleanDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	tables := []string{
		"schema_migrations", "kv", "premium_guilds", "guild_settings",
		"ignored_users", "cooldowns", "transcriptions", "jobs",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table+` CASCADE`); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}

func openMigrationTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping migration test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRunMigrations applies versioned migrations to an empty database and
// verifies the expected tables exist.
func TestRunMigrations(t *testing.T) {
	db := openMigrationTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	tables := []string{"jobs", "transcriptions", "cooldowns", "ignored_users", "guild_settings", "premium_guilds", "kv"}
	for _, table := range tables {
		var exists bool
		err := db.QueryRow(`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after migrations", table)
		}
	}
}

// TestMigrationsIdempotent verifies running migrations twice is a no-op.
func TestMigrationsIdempotent(t *testing.T) {
	db := openMigrationTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	firstVersion, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty {
		t.Fatal("database dirty after first migration run")
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	secondVersion, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty {
		t.Fatal("database dirty after second migration run")
	}
	if firstVersion != secondVersion {
		t.Errorf("version changed on no-op run: %d -> %d", firstVersion, secondVersion)
	}
}

// TestMigrationUpDown applies migrations, rolls back one step, and re-applies.
func TestMigrationUpDown(t *testing.T) {
	db := openMigrationTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	if err := MigrateDown(db); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = 'jobs'
	)`).Scan(&exists)
	if err != nil {
		t.Fatalf("check jobs table: %v", err)
	}
	if exists {
		t.Error("jobs table still exists after rollback")
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("re-apply RunMigrations() error = %v", err)
	}
	err = db.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = 'jobs'
	)`).Scan(&exists)
	if err != nil {
		t.Fatalf("check jobs table after re-apply: %v", err)
	}
	if !exists {
		t.Error("jobs table missing after re-apply")
	}
}

// TestMigrationWithData verifies rows written through the helpers survive a
// no-op migration run.
func TestMigrationWithData(t *testing.T) {
	db := openMigrationTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	if err := SetAutoTranscribe(ctx, db, "guild-mig-1", true); err != nil {
		t.Fatalf("SetAutoTranscribe: %v", err)
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("no-op RunMigrations() error = %v", err)
	}

	enabled, err := GetAutoTranscribe(ctx, db, "guild-mig-1")
	if err != nil {
		t.Fatalf("GetAutoTranscribe: %v", err)
	}
	if !enabled {
		t.Error("setting lost across no-op migration run")
	}
}
