// Package migrations embeds the SQL schema applied by internal/platform/migrate.
package migrations

import "embed"

// FS holds every *.sql migration file.
//
//go:embed *.sql
var FS embed.FS
