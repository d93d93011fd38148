package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the process-wide handle set by Init.
var DB *gorm.DB

// models lists every table AutoMigrate keeps in sync.
var models = []any{&SessionAuditLog{}}

// Init opens config.Cfg.DatabasePath into DB.
func Init() error {
	db, err := Open(config.Cfg.DatabasePath, logger.Default.LogMode(logger.Warn))
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// dsn builds a go-sqlite3 connection string. WAL journaling and a busy
// timeout are applied per connection so pooled connections agree.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the sqlite file at path and migrates the
// audit schema.
func Open(path string, l logger.Interface) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger:  l,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.AutoMigrate(models...); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

// Ping reports whether DB is open and reachable.
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes DB if it was opened.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
