// Package migrations embeds the PostgreSQL schema for the event journal.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
