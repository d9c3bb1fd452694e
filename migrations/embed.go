// Package migrations embeds the SQL schema so the binary and integration tests apply the same DDL.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Postgres returns the Postgres migration files rooted at their directory
func Postgres() fs.FS {
	sub, _ := fs.Sub(files, "postgres")
	return sub
}

// ClickHouse returns the ClickHouse migration files rooted at their directory
func ClickHouse() fs.FS {
	sub, _ := fs.Sub(files, "clickhouse")
	return sub
}
