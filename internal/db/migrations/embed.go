// Package migrations holds the embedded Postgres schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
