package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	chartersync "github.com/goliatone/go-charter-sync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// Source is the embedded migration set of one SQL dialect. Postgres files live
// at the root of the migrations directory, sqlite files in its sqlite/ child.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect's migrations to the persistence layer.
type RegisterFunc func(ctx context.Context, source Source) error

var dialectDirs = map[string]string{
	DialectPostgres: migrationsDir,
	DialectSQLite:   migrationsDir + "/sqlite",
}

// SourceFor resolves the embedded migrations of dialect and fails when the
// directory carries no up migrations.
func SourceFor(dialect string) (Source, error) {
	dialect = normalizeDialect(dialect)
	dir, ok := dialectDirs[dialect]
	if !ok {
		return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(chartersync.GetMigrationsFS(), dir)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Source{}, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return Source{}, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return Source{Dialect: dialect, Path: dir, FS: sub}, nil
}

// Register passes the migrations of each requested dialect to registerFn, in
// argument order. With no dialects both postgres and sqlite are registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}

	seen := make(map[string]struct{}, len(dialects))
	registered := make([]Source, 0, len(dialects))
	for _, dialect := range dialects {
		source, err := SourceFor(dialect)
		if err != nil {
			return registered, err
		}
		if _, dup := seen[source.Dialect]; dup {
			continue
		}
		seen[source.Dialect] = struct{}{}
		if err := registerFn(ctx, source); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
		registered = append(registered, source)
	}
	return registered, nil
}

func normalizeDialect(dialect string) string {
	switch value := strings.ToLower(strings.TrimSpace(dialect)); value {
	case "postgresql", "pq":
		return DialectPostgres
	case "sqlite3":
		return DialectSQLite
	default:
		return value
	}
}
