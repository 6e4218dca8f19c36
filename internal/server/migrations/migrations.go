// Package migrations embeds the goose SQL migrations of the connect core.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
