// Package migrations embeds the Postgres schema used by the pgvector index
// and the ingestion lease lock.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
