package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/smtaidev/outbound/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema file, named NNN_description.sql
type Migration struct {
	Version string
	Name    string
}

// Migrations lists the embedded schema files in apply order
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", e.Name())
		}
		out = append(out, Migration{Version: version, Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies pending migrations. A nil logger runs silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	return MigrateContext(context.Background(), db, logger)
}

// MigrateContext applies each pending migration in its own transaction
func MigrateContext(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := Migrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if len(applied) == 0 && m.Version != all[0].Version {
			return errors.Newf("schema_migrations missing before %s", m.Name)
		}
		if logger != nil {
			logger.Infow("Applying migration", "migration", m.Name, "version", m.Version)
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		applied[m.Version] = true
		count++
	}

	if logger != nil && count > 0 {
		logger.Infow("Ledger schema up to date", "migrations", len(all), "applied", count)
	}
	return nil
}

// SchemaVersion is the newest applied migration version, or "" on a fresh file
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return "", err
	}
	latest := ""
	for v := range applied {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return nil, Classify(err, "inspect schema")
	}
	if n == 0 {
		return applied, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, Classify(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "read schema_migrations")
}

func apply(ctx context.Context, db *sql.DB, m Migration) (err error) {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.Name))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.Name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err, "begin "+m.Name)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.Name)
	}
	// 000 creates schema_migrations and then records itself like the rest
	if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return errors.Wrapf(err, "record %s", m.Name)
	}
	if err = tx.Commit(); err != nil {
		return Classify(err, "commit "+m.Name)
	}
	return nil
}
