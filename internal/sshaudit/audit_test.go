package sshaudit

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/database"
	"gorm.io/gorm/logger"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	// A temp file DB so concurrent writers share one database.
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewAuditor(db, 90)
}

func TestNewAuditor_DefaultRetention(t *testing.T) {
	a := NewAuditor(nil, 0)
	if a.RetentionDays() != DefaultRetentionDays {
		t.Errorf("expected %d retention days, got %d", DefaultRetentionDays, a.RetentionDays())
	}
}

func TestLogAndQuery(t *testing.T) {
	a := newTestAuditor(t)
	a.Log(AuditEntry{SessionID: "s1", EventType: EventSessionConnected, Hostname: "h1", Username: "root"})
	a.Log(AuditEntry{SessionID: "s2", EventType: EventSessionConnected, Hostname: "h2", Username: "deploy"})
	a.Log(AuditEntry{SessionID: "s1", EventType: EventSessionDisconnected, DurationMs: 1200})

	all, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != 50 {
		t.Fatalf("unexpected result total=%d entries=%d limit=%d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].EventType != EventSessionDisconnected {
		t.Errorf("expected newest first, got %s", all.Entries[0].EventType)
	}

	s1, _ := a.Query(QueryOptions{SessionID: "s1"})
	if s1.Total != 2 {
		t.Errorf("session filter: expected 2, got %d", s1.Total)
	}
	deploy, _ := a.Query(QueryOptions{Username: "deploy"})
	if deploy.Total != 1 || deploy.Entries[0].Hostname != "h2" {
		t.Errorf("username filter: %+v", deploy.Entries)
	}
	disc, _ := a.Query(QueryOptions{EventType: EventSessionDisconnected})
	if disc.Total != 1 || disc.Entries[0].DurationMs != 1200 {
		t.Errorf("event filter: %+v", disc.Entries)
	}
}

func TestQuery_Pagination(t *testing.T) {
	a := newTestAuditor(t)
	for i := 0; i < 5; i++ {
		a.Log(AuditEntry{SessionID: "s", EventType: EventCommandExecution})
	}

	page, err := a.Query(QueryOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 1 || page.Offset != 4 {
		t.Errorf("unexpected page total=%d entries=%d offset=%d", page.Total, len(page.Entries), page.Offset)
	}

	capped, _ := a.Query(QueryOptions{Limit: 5000})
	if capped.Limit != 1000 {
		t.Errorf("limit not capped: %d", capped.Limit)
	}
}

func TestQuery_TimeRange(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		a.SetNowFunc(func() time.Time { return ts })
		a.Log(AuditEntry{SessionID: "s", EventType: EventBroadcast})
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	res, _ := a.Query(QueryOptions{Since: &since, Until: &until})
	if res.Total != 1 {
		t.Errorf("expected 1 entry in range, got %d", res.Total)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -100) })
	a.Log(AuditEntry{SessionID: "old", EventType: EventSessionConnected})
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -10) })
	a.Log(AuditEntry{SessionID: "recent", EventType: EventSessionConnected})
	a.SetNowFunc(func() time.Time { return now })

	deleted, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	res, _ := a.Query(QueryOptions{})
	if res.Total != 1 || res.Entries[0].SessionID != "recent" {
		t.Errorf("unexpected survivors %+v", res.Entries)
	}

	deleted, _ = a.PurgeOlderThan(5)
	if deleted != 1 {
		t.Errorf("explicit window: expected 1 deleted, got %d", deleted)
	}
}

func TestLog_Concurrent(t *testing.T) {
	a := newTestAuditor(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Log(AuditEntry{SessionID: "s", EventType: EventCommandExecution})
		}()
	}
	wg.Wait()

	res, _ := a.Query(QueryOptions{})
	if res.Total != 10 {
		t.Errorf("expected 10 entries, got %d", res.Total)
	}
}

func TestLog_SanitizesLogLine(t *testing.T) {
	a := newTestAuditor(t)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	a.Log(AuditEntry{SessionID: "s1\n[ssh-audit] forged", EventType: EventSessionConnected, Hostname: "h"})

	if lines := strings.Count(strings.TrimSpace(buf.String()), "\n"); lines != 0 {
		t.Errorf("log injection produced %d extra lines: %q", lines, buf.String())
	}
	res, _ := a.Query(QueryOptions{})
	if res.Entries[0].SessionID != "s1\n[ssh-audit] forged" {
		t.Error("stored session id should be unmodified")
	}
}
