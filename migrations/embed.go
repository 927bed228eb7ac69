// Package migrations embeds the SQL migration files so goose can apply them
// at server start-up and in integration tests.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
