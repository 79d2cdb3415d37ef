// Package migrations holds the relay's embedded SQL migrations
// (lexicographic order matters: 001, 002, ...).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
