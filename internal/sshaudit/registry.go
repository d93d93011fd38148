package sshaudit

import (
	"sync/atomic"

	"gorm.io/gorm"
)

var current atomic.Pointer[Auditor]

// InitGlobal installs the process-wide Auditor backed by db and returns it.
func InitGlobal(db *gorm.DB, retentionDays int) *Auditor {
	a := NewAuditor(db, retentionDays)
	current.Store(a)
	return a
}

// GetAuditor returns the process-wide Auditor, or nil before InitGlobal.
func GetAuditor() *Auditor { return current.Load() }

// SetGlobalForTest swaps in a for the duration of a test.
func SetGlobalForTest(a *Auditor) { current.Store(a) }

// ResetGlobalForTest uninstalls the process-wide Auditor.
func ResetGlobalForTest() { current.Store(nil) }
