package datastore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

func validateSQLiteConfig(settings *conf.Settings) error {
	if strings.TrimSpace(settings.Output.SQLite.Path) == "" {
		return validationError("sqlite path is required", "output.sqlite.path")
	}
	return nil
}

// sqliteDSN builds the connection string. Each in-memory store gets its own
// shared-cache name so every pooled connection sees the same database.
func sqliteDSN(path string) string {
	if path == MemoryPath {
		return fmt.Sprintf("file:memdb-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	}
	dir, fileName := filepath.Split(path)
	absoluteFilePath := filepath.Join(conf.GetBasePath(dir), fileName)
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", absoluteFilePath)
}

// Open connects to the SQLite database and migrates the schema.
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Settings); err != nil {
		return err
	}

	dsn := sqliteDSN(store.Settings.Output.SQLite.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         createGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return dbError(err, "open", "driver", "sqlite")
	}

	// SQLite allows a single writer; one pooled connection keeps
	// concurrent appends from failing with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", "driver", "sqlite")
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	if err := performAutoMigration(db, store.Settings.Debug, "SQLite"); err != nil {
		return err
	}

	GetLogger().Info("database opened",
		logger.String("driver", "sqlite"),
		logger.String("path", store.Settings.Output.SQLite.Path))
	return nil
}

// Close releases the connection pool.
func (store *SQLiteStore) Close() error {
	return closeDB(store.DB)
}
