// Package migrations embeds the sqlite schema migrations for the
// snapshot store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
