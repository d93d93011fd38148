package main

import (
	"log"

	"github.com/gluk-w/claworc/sshdeck/internal/sshaudit"
	"github.com/robfig/cron/v3"
)

// startAuditPurge schedules purgeAuditLogs on schedule, a standard cron
// expression or descriptor such as "@daily".
func startAuditPurge(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, purgeAuditLogs); err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("[ssh-audit] purge scheduled (%s)", schedule)
	return c, nil
}

// purgeAuditLogs removes entries older than the auditor's retention period.
func purgeAuditLogs() {
	a := sshaudit.GetAuditor()
	if a == nil {
		return
	}
	if _, err := a.PurgeOlderThan(0); err != nil {
		log.Printf("[ssh-audit] scheduled purge failed: %v", err)
	}
}
