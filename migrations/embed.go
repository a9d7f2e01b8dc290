// Package migrations holds the SQL schema for the encounter export table.
package migrations

import "embed"

// FS contains every numbered .sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
