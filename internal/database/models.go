package database

import "time"

// SessionAuditLog is one audit trail row.
type SessionAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;not null;size:128" json:"session_id"`
	EventType  string    `gorm:"index;not null;size:64" json:"event_type"`
	Hostname   string    `json:"hostname"`
	Username   string    `json:"username"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `gorm:"type:text" json:"details"`
	DurationMs int64     `gorm:"default:0" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
