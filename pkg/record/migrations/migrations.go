// Package migrations embeds the Environment Record Store's schema and
// applies it with sql-migrate, the teacher's indirect dependency
// (pulled in transitively through its Helm integration's Postgres
// storage backend) promoted here to its real purpose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Source exposes the embedded migrations to sql-migrate.
var Source = &migrate.EmbedFileSystemMigrationSource{
	FileSystem: sqlFiles,
	Root:       "sql",
}

// Apply runs every pending "up" migration against db.
func Apply(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, "postgres", Source, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("applying record store migrations: %w", err)
	}
	return n, nil
}
