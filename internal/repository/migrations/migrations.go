package migrations

import "embed"

// FS holds the goose migrations for the SQLite schema.
//
//go:embed *.sql
var FS embed.FS
