package sshaudit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// LogBroadcast logs one broadcast and its delivery counts.
func LogBroadcast(sourceIP string, payloadBytes, delivered, total int) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType: EventBroadcast,
			SourceIP:  sourceIP,
			Details:   fmt.Sprintf("bytes=%d delivered=%d total=%d", payloadBytes, delivered, total),
		})
	}
}

// LogCommand logs a one-off command executed on a session.
func LogCommand(sessionID, hostname, username, sourceIP, command string, exitCode int) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			EventType: EventCommandExecution,
			Hostname:  hostname,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   fmt.Sprintf("cmd=%s exit=%d", command, exitCode),
		})
	}
}

// LogFileOperation logs a remote file operation.
func LogFileOperation(sessionID, hostname, username, sourceIP, operation, filePath string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			EventType: EventFileOperation,
			Hostname:  hostname,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   operation + ": " + filePath,
		})
	}
}

// LogConnectionTest logs a connection test and its outcome.
func LogConnectionTest(hostname, username, sourceIP, result string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType: EventConnectionTest,
			Hostname:  hostname,
			Username:  username,
			SourceIP:  sourceIP,
			Details:   result,
		})
	}
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
