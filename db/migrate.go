package db

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrSchemaAhead reports that the database's applied migration version is
// ahead of the embedded set this binary carries: spec.md §4.J refuses to
// start in that situation rather than guess at forward compatibility.
var ErrSchemaAhead = errors.New("db: database schema is ahead of the embedded migration set")

// Migrate applies the embedded, ordered migration set forward-only. It
// records applied versions in golang-migrate's own schema_migrations table
// and refuses to proceed if the on-disk schema is ahead of what this
// binary embeds.
func Migrate(dsn string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("db: loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("db: creating migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("db: reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("db: schema at version %d is dirty; refusing to migrate", version)
	}

	latest, err := latestEmbeddedVersion()
	if err != nil {
		return err
	}
	if !errors.Is(err, migrate.ErrNilVersion) && version > latest {
		return ErrSchemaAhead
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: applying migrations: %w", err)
	}
	return nil
}

// latestEmbeddedVersion reads the embedded migration filenames
// ("NNNN_name.up.sql") and returns the highest version number this binary
// carries, the set golang-migrate's on-disk version is compared against.
func latestEmbeddedVersion() (uint, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return 0, fmt.Errorf("db: reading embedded migration set: %w", err)
	}
	var latest uint
	for _, e := range entries {
		name := e.Name()
		underscore := strings.IndexByte(name, '_')
		if underscore <= 0 {
			continue
		}
		n, err := strconv.ParseUint(name[:underscore], 10, 64)
		if err != nil {
			continue
		}
		if uint(n) > latest {
			latest = uint(n)
		}
	}
	return latest, nil
}

// EmbeddedVersions returns every migration version embedded in this
// binary, ascending, for diagnostics.
func EmbeddedVersions() ([]uint, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]bool)
	for _, e := range entries {
		name := e.Name()
		underscore := strings.IndexByte(name, '_')
		if underscore <= 0 {
			continue
		}
		n, err := strconv.ParseUint(name[:underscore], 10, 64)
		if err != nil {
			continue
		}
		seen[uint(n)] = true
	}
	versions := make([]uint, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
