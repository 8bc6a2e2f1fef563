package store

import (
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded in this package.
// Grounded on the teacher's absence of a migration runner (the Mattermost
// plugin relies on pluginapi's KV store, schema-less by construction); this
// is adopted from the rest of the pack's use of pressly/goose for relational
// schema management.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}
	if err := goose.Up(s.DB(), "migrations"); err != nil {
		return errors.Wrap(err, "applying migrations")
	}
	return nil
}
