// Package sshterminal manages many concurrent interactive SSH sessions.
//
// # Core Components
//
//   - [Session]: one connection and its PTY shell, driven through the states
//     idle, connecting, connected, shell-active, closed and error.
//   - [Registry]: the id to [Session] map. At most one session per id.
//   - [EventBridge]: republishes session events, tagged with the session id,
//     to any number of listeners and removes ended sessions from the registry.
//   - [Broadcaster]: writes one payload to every shell-active session with
//     per-target failure isolation.
//   - [SessionManager]: the facade used by the HTTP layer.
//   - [ScrollbackBuffer] and [SessionRecording]: output kept for late
//     attachers and optional asciicast recordings.
//   - [ConnectLimiter]: per-target connect budget and failure block.
//
// # Session Lifecycle
//
//  1. [SessionManager.CreateSession] registers the session, attaches the
//     bridge, connects (bounded by the connect timeout) and opens the shell.
//     Failure at any step tears the session down and removes it.
//
//  2. While shell-active, output arrives as data events in order. Input sent
//     through [Session.Write] goes to the shell; before the shell is open, input
//     is dropped.
//
//  3. A local [Session.Disconnect], a remote hangup, or the shell exiting move
//     the session to closed and emit exactly one disconnected event. Connect or
//     shell failures emit exactly one error event instead.
//
//  4. The bridge forwards that terminal event, then removes the session from
//     the registry. Events from a session that no longer holds its id are
//     dropped.
//
// # Log Prefixes
//
// Session lifecycle logs use [session-mgr], the bridge logs at [bridge] and
// broadcasts at [broadcast]. The connect limiter logs at [ssh].
package sshterminal
