// Package migrations embeds the SQL schema migrations of the local cache.
package migrations

import "embed"

// FS holds the V<n>__<description>.{up,down}.sql files.
//
//go:embed *.sql
var FS embed.FS
