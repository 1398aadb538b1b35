package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// File returns a dialector for the SQLite database at path, creating the
// parent directory if absent.
func File(path string) (gorm.Dialector, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir %q: %w", dir, err)
		}
	}
	return sqlite.Open(path + "?_busy_timeout=5000&_foreign_keys=on"), nil
}

// Memory returns a dialector for a shared-cache in-memory database. An empty
// name picks a random one so parallel callers never share state.
func Memory(name string) gorm.Dialector {
	if name == "" {
		name = uuid.NewString()
	}
	return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
}
