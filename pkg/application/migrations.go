package application

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// MigrationManager collects schema files embedded by modules and applies
// them in registration order. Schema files are idempotent (CREATE TABLE
// IF NOT EXISTS), so Apply is safe to run on every start.
type MigrationManager interface {
	RegisterSchema(fsys *embed.FS)
	Apply(ctx context.Context) error
}

func NewMigrationManager(pool *pgxpool.Pool) MigrationManager {
	return &migrationManager{pool: pool}
}

type migrationManager struct {
	pool    *pgxpool.Pool
	schemas []*embed.FS
}

func (m *migrationManager) RegisterSchema(fsys *embed.FS) {
	m.schemas = append(m.schemas, fsys)
}

func (m *migrationManager) Apply(ctx context.Context) error {
	for _, fsys := range m.schemas {
		files, err := collectSQLFiles(fsys)
		if err != nil {
			return err
		}
		for _, name := range files {
			ddl, err := fs.ReadFile(fsys, name)
			if err != nil {
				return errors.Wrapf(err, "read schema %s", name)
			}
			// Exec without arguments uses the simple protocol, which
			// accepts multiple statements per call.
			if _, err := m.pool.Exec(ctx, string(ddl)); err != nil {
				return errors.Wrapf(err, "apply schema %s", name)
			}
		}
	}
	return nil
}

func collectSQLFiles(fsys *embed.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk schema files")
	}
	sort.Strings(files)
	return files, nil
}
