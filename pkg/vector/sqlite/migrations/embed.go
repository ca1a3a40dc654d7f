// Package migrations embeds the SQL schema of the SQLite vector index.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
