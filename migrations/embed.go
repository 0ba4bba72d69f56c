// Package migrations embeds the goose SQL migrations for the server, tests and tooling.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
