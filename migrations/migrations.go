package migrations

import "embed"

// Embedded migration files bundled at compile time so the agent binary
// can bring a fresh device database up to date on its own.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
