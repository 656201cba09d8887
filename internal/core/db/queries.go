package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries runs the named statements of queries/*.sql ("-- name: get-nvs-entry")
// against one database. Statements are written with ? placeholders and
// rebound for the driver.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

// LoadQueries parses every embedded query file.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	files, err := fs.Glob(queriesFS, "queries/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list query files: %w", err)
	}
	var all strings.Builder
	for _, name := range files {
		content, err := queriesFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		all.Write(content)
		all.WriteByte('\n')
	}

	dot, err := dotsql.LoadFromString(all.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}
	return &Queries{dot: dot, db: db}, nil
}

// Has reports whether a named query was loaded.
func (q *Queries) Has(name string) bool {
	_, err := q.dot.Raw(name)
	return err == nil
}

func (q *Queries) query(name string) (string, error) {
	raw, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return q.db.Rebind(raw), nil
}

// Exec runs a statement that returns no rows.
func (q *Queries) Exec(name string, args ...any) (sql.Result, error) {
	query, err := q.query(name)
	if err != nil {
		return nil, err
	}
	return q.db.Exec(query, args...)
}

// Get scans one row into dest; no row is sql.ErrNoRows.
func (q *Queries) Get(name string, dest any, args ...any) error {
	query, err := q.query(name)
	if err != nil {
		return err
	}
	return q.db.Get(dest, query, args...)
}

// Select scans all rows into the slice dest.
func (q *Queries) Select(name string, dest any, args ...any) error {
	query, err := q.query(name)
	if err != nil {
		return err
	}
	return q.db.Select(dest, query, args...)
}
