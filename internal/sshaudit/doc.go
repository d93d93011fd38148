// Package sshaudit keeps the audit trail of session activity.
//
// It records events to the database and standard logger for later
// investigation of who connected where and what ran.
//
// # Event Types
//
//   - [EventSessionConnected]: a session reached the connected state.
//   - [EventSessionDisconnected]: a session closed (includes duration).
//   - [EventSessionError]: a connect or shell failure.
//   - [EventBroadcast]: input broadcast to every active session.
//   - [EventCommandExecution]: one-off command executed via exec.
//   - [EventFileOperation]: file read, write, transfer or mkdir.
//   - [EventConnectionTest]: a connection test and its result.
//
// # Architecture
//
// [Auditor] writes to the session_audit_logs table through GORM. [Recorder]
// listens to session lifecycle events and writes the session_* rows. The
// helpers ([LogBroadcast], [LogCommand], [LogFileOperation],
// [LogConnectionTest]) write through the global auditor installed by
// [InitGlobal] and are no-ops before it is set.
//
// # Retention and Purging
//
// Entries are retained for [DefaultRetentionDays] (90 days) by default.
// [Auditor.PurgeOlderThan] removes older entries; the server runs it on a
// cron schedule.
//
// # Log Prefixes
//
// Audit log messages use the [ssh-audit] prefix.
package sshaudit
