package repository

import (
	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/repository/sqlite"
)

// NewRecordEngine returns a RecordEngine backed by SQLite at the given path.
// The path is typically from config.Config.StoreFile() (inside the shared-group directory).
func NewRecordEngine(path string) (app.RecordEngine, error) {
	return sqlite.New(path)
}
