package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

const modulePath = "github.com/elskow/shotlog"

var errNoMigrations = errors.New("no .sql migrations found")

// resolveMigrationsDir picks the directory goose reads from. An explicit
// setting wins; otherwise the source tree's migrations/ is used, and a
// deployed binary falls back to the migrations/ shipped beside it.
func resolveMigrationsDir(configured string) (string, error) {
	if configured != "" {
		dir, err := filepath.Abs(configured)
		if err != nil {
			return "", err
		}
		return dir, checkMigrationsDir(dir)
	}

	var candidates []string
	if root, err := findModuleRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, "migrations"))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if checkMigrationsDir(dir) == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found (tried %v); set migration.dir", candidates)
}

// checkMigrationsDir fails unless dir holds at least one .sql file.
func checkMigrationsDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%s: %w", dir, errNoMigrations)
	}
	return nil
}

// findModuleRoot walks up from the working directory to the shotlog go.mod.
func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if content, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
			if modfile.ModulePath(content) == modulePath {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s go.mod not found above working directory", modulePath)
		}
		dir = parent
	}
}
