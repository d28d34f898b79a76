package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// assetDir resolves database/<name> relative to the working directory, falling back to
// the parent so binaries started from bin/ still find the SQL files.
func assetDir(name string) (string, bool) {
	cwd, _ := os.Getwd()
	for _, base := range []string{cwd, filepath.Dir(cwd)} {
		d := filepath.Join(base, "database", name)
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			return d, true
		}
	}
	return filepath.Join(cwd, "database", name), false
}

// ensureDatabase connects to the "postgres" maintenance database and creates the relay
// database named in databaseURL if it is missing.
func ensureDatabase(databaseURL string, log *zap.Logger) error {
	target, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	name := strings.TrimPrefix(target.Path, "/")
	if name == "" {
		return errors.New("database url has no database name")
	}
	admin := *target
	admin.Path = "/postgres"

	conn, err := sql.Open("postgres", admin.String())
	if err != nil {
		return fmt.Errorf("open maintenance db: %w", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping maintenance db: %w", err)
	}

	var found bool
	row := conn.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name)
	if err := row.Scan(&found); err != nil {
		return fmt.Errorf("look up database %q: %w", name, err)
	}
	if found {
		return nil
	}
	if _, err := conn.Exec("CREATE DATABASE " + pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	log.Info("database created", zap.String("database", name))
	return nil
}

// MigrateUp applies pending migrations from database/migrations, creating the database
// first when needed.
func MigrateUp(databaseURL string, log *zap.Logger) error {
	log = log.Named("migrate")
	if err := ensureDatabase(databaseURL, log); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	dir, ok := assetDir("migrations")
	if !ok {
		return fmt.Errorf("migrations directory %s not found", dir)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(dir), databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{log.Sugar()}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("schema up to date")
		return nil
	}
	if err != nil {
		return err
	}
	version, dirty, _ := m.Version()
	log.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// CreateMigration writes an empty <unix>_<name>.up.sql / .down.sql pair.
func CreateMigration(name string) error {
	dir, _ := assetDir("migrations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	prefix := filepath.Join(dir, fmt.Sprintf("%d_%s", time.Now().Unix(), name))
	for _, direction := range []string{"up", "down"} {
		body := fmt.Sprintf("-- %s: %s\n", name, direction)
		if err := os.WriteFile(prefix+"."+direction+".sql", []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// migrateLogger adapts zap to migrate.Logger.
type migrateLogger struct{ s *zap.SugaredLogger }

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.s.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }

// MigrateDown rolls back the last steps migrations.
func MigrateDown(databaseURL string, steps int, log *zap.Logger) error {
	if steps < 1 {
		return errors.New("steps must be at least 1")
	}
	dir, ok := assetDir("migrations")
	if !ok {
		return fmt.Errorf("migrations directory %s not found", dir)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(dir), databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()
	log = log.Named("migrate")
	m.Log = migrateLogger{log.Sugar()}

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("roll back %d: %w", steps, err)
	}
	log.Info("migrations rolled back", zap.Int("steps", steps))
	return nil
}
