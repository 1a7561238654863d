// Package migrations embeds the schema files applied by the migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists migrations in application order.
var Files = []string{
	"001_create_blocks.sql",
	"002_create_tasks.sql",
	"003_create_digests.sql",
}
