package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	hmrc "github.com/goliatone/go-hmrc"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestRegister_CustomSourceLabel(t *testing.T) {
	var labels []string
	_, err := Register(context.Background(), func(_ context.Context, _ string, label string, _ fs.FS) error {
		labels = append(labels, label)
		return nil
	}, WithValidationTargets(DialectSQLite), WithDialectSourceLabel("hmrc-auth"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(labels) != 1 || labels[0] != "hmrc-auth" {
		t.Fatalf("expected custom source label, got %v", labels)
	}
}

func TestAuthSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := hmrc.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_hmrc_auth.up.sql",
		"data/sql/migrations/00001_hmrc_auth.down.sql",
		"data/sql/migrations/sqlite/00001_hmrc_auth.up.sql",
		"data/sql/migrations/sqlite/00001_hmrc_auth.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestBackupOutboxMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := hmrc.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00002_hmrc_backup_outbox.up.sql",
		"data/sql/migrations/00002_hmrc_backup_outbox.down.sql",
		"data/sql/migrations/sqlite/00002_hmrc_backup_outbox.up.sql",
		"data/sql/migrations/sqlite/00002_hmrc_backup_outbox.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteAuthSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-hmrc-auth?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := hmrc.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "00001_hmrc_auth.up.sql"); err != nil {
		t.Fatalf("apply auth migration up: %v", err)
	}

	insertToken := `
		INSERT INTO hmrc_tokens (
			id, user_id, version, encrypted_access, token_type,
			scopes, expires_at, status, encryption_key_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertToken,
		"tok-1", "user-1", 1, []byte("ciphertext"), "Bearer",
		"[]", "2026-01-01T00:00:00Z", "active", "key-1",
	); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertToken,
		"tok-2", "user-1", 2, []byte("ciphertext"), "Bearer",
		"[]", "2026-01-01T00:00:00Z", "active", "key-1",
	); err == nil {
		t.Fatalf("expected second active token per user to violate unique index")
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertToken,
		"tok-2", "user-1", 2, []byte("ciphertext"), "Bearer",
		"[]", "2026-01-01T00:00:00Z", "superseded", "key-1",
	); err != nil {
		t.Fatalf("insert superseded token: %v", err)
	}

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "00001_hmrc_auth.down.sql"); err != nil {
		t.Fatalf("apply auth migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"hmrc_tokens",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected hmrc_tokens to be dropped after down migration")
	}
}

func TestSQLiteBackupOutboxMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-hmrc-backup?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := hmrc.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	baseUps := []string{
		"00001_hmrc_auth.up.sql",
		"00002_hmrc_backup_outbox.up.sql",
	}
	for _, migration := range baseUps {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	requiredTables := []string{
		"hmrc_backup_submissions",
		"hmrc_notification_outbox",
	}
	for _, tableName := range requiredTables {
		var count int
		if err := db.QueryRowContext(
			context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			tableName,
		).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master for %s: %v", tableName, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertOutbox := `
		INSERT INTO hmrc_notification_outbox
			(id, event_id, event_name, source, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertOutbox,
		"row-1", "evt-1", "hmrc.token.refreshed", "hmrc", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert outbox row: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertOutbox,
		"row-2", "evt-1", "hmrc.token.refreshed", "hmrc", "2026-01-01T00:00:00Z",
	); err == nil {
		t.Fatalf("expected duplicate event_id to violate unique constraint")
	}

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "00002_hmrc_backup_outbox.down.sql"); err != nil {
		t.Fatalf("apply backup migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"hmrc_backup_submissions",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected hmrc_backup_submissions to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
