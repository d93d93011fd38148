// Package sshfiles provides file operations on a remote host over SSH exec.
//
// Every operation runs one or more shell commands through an [Executor],
// normally a live session, so file access reuses the session's connection.
//
//   - [ListDirectory]: runs "ls -la" and parses the rows into [FileEntry].
//   - [ReadFile]: runs "cat".
//   - [WriteFile]: truncates, then appends base64 chunks.
//   - [CreateDirectory]: runs "mkdir -p".
//   - [Upload] and [Download]: copy between a local path and the remote host.
//
// All path arguments are shell-quoted. A command that exits non-zero is
// reported as a [*CommandError] carrying its stderr.
//
// Operations log timing at the [sshfiles] prefix; commands slower than
// 500ms are logged as SLOW.
package sshfiles
