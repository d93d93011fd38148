package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"), logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestOpen_WALAndSchema(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var columns []struct {
		Name string `gorm:"column:name"`
	}
	db.Raw("PRAGMA table_info(session_audit_logs)").Scan(&columns)
	got := make(map[string]bool)
	for _, c := range columns {
		got[c.Name] = true
	}
	for _, want := range []string{"session_id", "event_type", "hostname", "username", "source_ip", "details", "duration_ms", "created_at"} {
		if !got[want] {
			t.Errorf("missing column %q, have %v", want, got)
		}
	}
}

func TestSessionAuditLogRoundTrip(t *testing.T) {
	db := openTestDB(t)
	row := SessionAuditLog{
		SessionID:  "s1",
		EventType:  "session_connected",
		Hostname:   "example.com",
		Username:   "root",
		DurationMs: 1500,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var loaded SessionAuditLog
	if err := db.First(&loaded, row.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != "s1" || loaded.DurationMs != 1500 || !loaded.CreatedAt.Equal(row.CreatedAt) {
		t.Errorf("unexpected row %+v", loaded)
	}
}

func TestInitAndClose(t *testing.T) {
	prev := config.Cfg
	t.Cleanup(func() { config.Cfg = prev; DB = nil })
	config.Cfg.DatabasePath = filepath.Join(t.TempDir(), "sshdeck.db")

	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if DB == nil {
		t.Fatal("DB not set")
	}
	if err := Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
