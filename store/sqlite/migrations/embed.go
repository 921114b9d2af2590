// Package migrations holds the embedded SQLite schema for the Coffer store.
package migrations

import "embed"

// FS contains the ordered SQL migrations.
//
//go:embed *.sql
var FS embed.FS
