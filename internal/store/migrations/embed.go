// Package migrations embeds the sqlite schema for chatsync.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
