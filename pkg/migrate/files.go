package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	unsafeRunes = regexp.MustCompile(`[^a-z0-9_]+`)
)

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// slug turns a free-form migration name into the filename suffix.
func slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = unsafeRunes.ReplaceAllString(strings.ReplaceAll(s, " ", "_"), "_")
	return strings.Trim(s, "_")
}

// Create writes an empty goose migration named <YYYYMMDDHHMMSS>_<slug>.sql.
func Create(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	s := slug(name)
	if s == "" {
		return "", fmt.Errorf("migration name %q is empty after sanitizing", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	full := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), s))
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", full, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, sqlTemplate, s); err != nil {
		return "", fmt.Errorf("write migration %q: %w", full, err)
	}
	return full, nil
}

// Validate checks filenames, version uniqueness and goose headers for every
// .sql file in src. It returns the versions found in order.
func Validate(src Source) ([]string, error) {
	fsys, dir := src.FS, src.Dir
	if fsys == nil {
		fsys, dir = os.DirFS(src.Dir), "."
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", src.Dir, err)
	}

	seen := make(map[string]string, len(entries))
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q", name)
		}
		if prev, dup := seen[m[1]]; dup {
			return nil, fmt.Errorf("version %s used by %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		body, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return nil, fmt.Errorf("migration %q missing %q", name, marker)
			}
		}
		versions = append(versions, m[1])
	}
	sort.Strings(versions)
	return versions, nil
}
