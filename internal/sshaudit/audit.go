package sshaudit

import (
	"log"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/database"
	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"gorm.io/gorm"
)

const (
	EventSessionConnected    = "session_connected"
	EventSessionDisconnected = "session_disconnected"
	EventSessionError        = "session_error"
	EventBroadcast           = "broadcast"
	EventCommandExecution    = "command_execution"
	EventFileOperation       = "file_operation"
	EventConnectionTest      = "connection_test"
)

// DefaultRetentionDays applies when no retention is configured.
const DefaultRetentionDays = 90

// Query page size bounds.
const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// AuditEntry is the caller-supplied part of an audit row.
type AuditEntry struct {
	SessionID  string
	EventType  string
	Hostname   string
	Username   string
	SourceIP   string
	Details    string
	DurationMs int64
}

// Auditor writes and reads the session_audit_logs table.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor returns an Auditor on db. retentionDays <= 0 selects
// DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

// Log stores entry stamped with the current time and mirrors it to the
// standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	row := &database.SessionAuditLog{
		SessionID:  entry.SessionID,
		EventType:  entry.EventType,
		Hostname:   entry.Hostname,
		Username:   entry.Username,
		SourceIP:   entry.SourceIP,
		Details:    entry.Details,
		DurationMs: entry.DurationMs,
		CreatedAt:  a.nowFn(),
	}
	if err := a.db.Create(row).Error; err != nil {
		log.Printf("[ssh-audit] write %s for session %s: %v", entry.EventType, logutil.SanitizeForLog(entry.SessionID), err)
		return err
	}

	log.Printf("[ssh-audit] %s session=%s target=%s@%s ip=%s %s",
		entry.EventType,
		logutil.SanitizeForLog(entry.SessionID),
		logutil.SanitizeForLog(entry.Username),
		logutil.SanitizeForLog(entry.Hostname),
		entry.SourceIP,
		logutil.Truncate(logutil.SanitizeForLog(entry.Details), 200),
	)
	return nil
}

// QueryOptions filters Query. Zero fields match everything.
type QueryOptions struct {
	SessionID string
	EventType string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult is one page of audit rows plus the unpaged match count.
type QueryResult struct {
	Entries []database.SessionAuditLog `json:"entries"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

func (o QueryOptions) filter(tx *gorm.DB) *gorm.DB {
	for col, v := range map[string]string{
		"session_id": o.SessionID,
		"event_type": o.EventType,
		"username":   o.Username,
	} {
		if v != "" {
			tx = tx.Where(col+" = ?", v)
		}
	}
	if o.Since != nil {
		tx = tx.Where("created_at >= ?", *o.Since)
	}
	if o.Until != nil {
		tx = tx.Where("created_at <= ?", *o.Until)
	}
	return tx
}

// page clamps Limit and Offset in place and returns the paging scope.
func (o *QueryOptions) page() func(*gorm.DB) *gorm.DB {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultPageSize
	case o.Limit > maxPageSize:
		o.Limit = maxPageSize
	}
	o.Offset = max(o.Offset, 0)
	limit, offset := o.Limit, o.Offset
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at DESC, id DESC").Offset(offset).Limit(limit)
	}
}

// Query returns the rows matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	res := &QueryResult{}
	base := a.db.Model(&database.SessionAuditLog{}).Scopes(opts.filter)
	if err := base.Session(&gorm.Session{}).Count(&res.Total).Error; err != nil {
		return nil, err
	}
	if err := base.Scopes(opts.page()).Find(&res.Entries).Error; err != nil {
		return nil, err
	}
	res.Limit, res.Offset = opts.Limit, opts.Offset
	return res, nil
}

// PurgeOlderThan deletes rows older than days (the retention period when
// days <= 0) and returns how many went.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	res := a.db.Where("created_at < ?", cutoff).Delete(&database.SessionAuditLog{})
	if res.Error != nil {
		log.Printf("[ssh-audit] purge before %s: %v", cutoff.Format(time.RFC3339), res.Error)
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d entries older than %d days", res.RowsAffected, days)
	}
	return res.RowsAffected, nil
}

// RetentionDays reports the default purge window.
func (a *Auditor) RetentionDays() int { return a.retentionDays }

// SetNowFunc replaces the clock; tests use it to backdate rows.
func (a *Auditor) SetNowFunc(fn func() time.Time) { a.nowFn = fn }
