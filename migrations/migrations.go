// Package migrations embeds the SQL schema applied by `tcm-server migrate up`.
package migrations

import "embed"

// FS holds the numbered migration files.
//
//go:embed *.sql
var FS embed.FS
