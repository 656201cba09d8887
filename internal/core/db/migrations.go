package db

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	embeddedmigrations "github.com/solatis/aadnode/migrations"
)

// MigrationStatus is one embedded migration and, once applied, its record.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// migration is an embedded file. ID is the file name, which also orders it.
type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// record is a row of the migrations table.
type record struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   any    `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// Both dialects keep applied_at in a column the driver can hand back; SQLite
// stores RFC 3339 text.
const (
	sqliteMigrationsTable = `CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	execution_ms INTEGER NOT NULL,
	CHECK (applied_at LIKE '____-__-__T__:__:__Z')
)`
	postgresMigrationsTable = `CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
	execution_ms INTEGER NOT NULL
)`
)

// migrator binds a database to the migration set of its driver.
type migrator struct {
	db    *sqlx.DB
	files []migration
}

func newMigrator(db *sqlx.DB) (*migrator, error) {
	var (
		fsys  fs.FS
		dir   string
		table string
	)
	switch db.DriverName() {
	case "sqlite3":
		fsys, dir, table = embeddedmigrations.SqliteMigrations, "sqlite", sqliteMigrationsTable
	case "postgres":
		fsys, dir, table = embeddedmigrations.PostgresMigrations, "postgres", postgresMigrationsTable
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}

	if _, err := db.Exec(table); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	files, err := readMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	return &migrator{db: db, files: files}, nil
}

// readMigrations loads every .sql file of dir sorted by name.
func readMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{ID: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// records returns the applied migrations by id.
func (m *migrator) records() (map[string]record, error) {
	var rows []record
	if err := m.db.Select(&rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	out := make(map[string]record, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// verify rejects a database whose history no longer matches the embedded files.
func (m *migrator) verify(applied map[string]record) error {
	for id, r := range applied {
		i := slices.IndexFunc(m.files, func(f migration) bool { return f.ID == id })
		if i < 0 {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if m.files[i].Checksum != r.Checksum {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, m.files[i].Checksum, r.Checksum)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (m *migrator) apply(f migration) error {
	start := time.Now()
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", f.ID, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(f.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", f.ID, err)
		}
	}

	elapsed := time.Since(start)
	var appliedAt any = start.UTC()
	if m.db.DriverName() == "sqlite3" {
		appliedAt = start.UTC().Format(time.RFC3339)
	}
	insert := tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)")
	if _, err := tx.Exec(insert, f.ID, f.Checksum, appliedAt, elapsed.Milliseconds()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", f.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", f.ID, err)
	}
	log.Info().Str("migration", f.ID).Dur("elapsed", elapsed).Msg("Migration applied")
	return nil
}

// MigrateUp applies pending migrations in name order after checking that the
// applied ones are unchanged.
func MigrateUp(db *sqlx.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	applied, err := m.records()
	if err != nil {
		return err
	}
	if err := m.verify(applied); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}
	for _, f := range m.files {
		if _, ok := applied[f.ID]; ok {
			continue
		}
		if err := m.apply(f); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration with its record, if any.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	m, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	applied, err := m.records()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.files))
	for _, f := range m.files {
		s := MigrationStatus{ID: f.ID, Checksum: f.Checksum}
		if r, ok := applied[f.ID]; ok {
			s.Checksum = r.Checksum
			s.Applied = true
			s.AppliedAt = parseAppliedAt(r.AppliedAt)
			s.ExecutionMs = r.ExecutionMs
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// Applied reports whether the named migration has been recorded.
func Applied(db *sqlx.DB, id string) (bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return false, err
	}
	applied, err := m.records()
	if err != nil {
		return false, err
	}
	_, ok := applied[id]
	return ok, nil
}

// parseAppliedAt normalises applied_at, which SQLite returns as RFC 3339 text
// and PostgreSQL as a timestamp.
func parseAppliedAt(v any) *time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &parsed
}

// splitStatements drops "--" comment lines and splits on semicolons, since
// lib/pq rejects multi-statement Exec.
func splitStatements(sql string) []string {
	var b strings.Builder
	for line := range strings.Lines(sql) {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
	}

	var statements []string
	for stmt := range strings.SplitSeq(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
