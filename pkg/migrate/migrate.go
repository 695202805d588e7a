package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location used by the create/validate commands.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// EmbeddedDir is the directory name inside the embedded filesystem.
const EmbeddedDir = "migrations"

// Source selects where goose reads migration files from.
type Source struct {
	FS  fs.FS
	Dir string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() Source {
	return Source{FS: embedded, Dir: EmbeddedDir}
}

// Disk returns migrations read from dir at runtime.
func Disk(dir string) Source {
	return Source{Dir: dir}
}

func (s Source) apply() error {
	if s.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	goose.SetBaseFS(s.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes a goose command (up, down, status, ...) against db.
func Run(ctx context.Context, db *sql.DB, src Source, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := src.apply(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, src.Dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until it matches targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	if err := src.apply(); err != nil {
		return err
	}

	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, src.Dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, src.Dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
