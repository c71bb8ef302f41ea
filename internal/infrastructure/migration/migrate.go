package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/profitledger/backend/migrations"
	"go.uber.org/zap"
)

// Source returns the migration files to apply: the set embedded in the
// binary, or the directory at path when one is given.
func Source(path string) fs.FS {
	if path == "" {
		return migrations.FS
	}
	return os.DirFS(path)
}

// Migrator applies the ledger schema with golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	source  fs.FS
	logger  *zap.Logger
}

// New creates a Migrator over an open postgres connection
func New(db *sql.DB, source fs.FS, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	src, err := iofs.New(source, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{migrate: m, source: source, logger: logger}, nil
}

// Open connects to dsn and creates a Migrator that owns the connection;
// Close releases both.
func Open(dsn string, source fs.FS, logger *zap.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	m, err := New(db, source, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Apply brings the schema at dsn up to date. The server calls it on start
// when database.migrate_on_start is set.
func Apply(dsn string, source fs.FS, logger *zap.Logger) error {
	m, err := Open(dsn, source, logger)
	if err != nil {
		return err
	}
	return errors.Join(m.Up(), m.Close())
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("Schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return m.logVersion("Schema migrated")
}

// Down rolls back every migration, dropping all ledger tables
func (m *Migrator) Down() error {
	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("Nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	m.logger.Info("Schema rolled back")
	return nil
}

// Steps applies n migrations; negative n rolls back
func (m *Migrator) Steps(n int) error {
	err := m.migrate.Steps(n)
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("Schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return m.logVersion("Migration steps applied")
}

func (m *Migrator) logVersion(msg string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Version returns the applied version, 0 on an empty database
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Status is the applied version together with the migrations on either side
// of it
type Status struct {
	Version uint
	Dirty   bool
	Applied []string
	Pending []string
}

// Status compares the database version with the migration source
func (m *Migrator) Status() (*Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	names, err := List(m.source)
	if err != nil {
		return nil, err
	}
	applied, pending, err := Partition(names, version)
	if err != nil {
		return nil, err
	}
	return &Status{Version: version, Dirty: dirty, Applied: applied, Pending: pending}, nil
}

// Force records version as applied without running anything. It repairs a
// schema left dirty by a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close releases the source and the database connection
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// List returns the names of the up migrations in source without the
// .up.sql suffix, oldest first
func List(source fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Partition splits migration names into those at or below version and
// those above it
func Partition(names []string, version uint) (applied, pending []string, err error) {
	for _, name := range names {
		v, err := versionOf(name)
		if err != nil {
			return nil, nil, err
		}
		if v <= uint64(version) {
			applied = append(applied, name)
		} else {
			pending = append(pending, name)
		}
	}
	return applied, pending, nil
}

func versionOf(name string) (uint64, error) {
	prefix, _, _ := strings.Cut(name, "_")
	v, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("migration %q has no numeric version", name)
	}
	return v, nil
}
