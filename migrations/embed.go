// Package migrations embeds the SQL schema applied by the api service at startup.
package migrations

import "embed"

// Files holds every .sql file in this directory; they are applied in name order.
//
//go:embed *.sql
var Files embed.FS
