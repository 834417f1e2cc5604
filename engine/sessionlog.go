// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SessionLog is the per-session capture file in the results mount. It
// receives timestamped orchestrator notes and the raw build and engine
// output, in the order they happened. The platform reads it back to
// users, so it stays plain text; Stage archives a compressed copy
// alongside it.
type SessionLog struct {
	path   string
	file   *os.File
	closed bool
}

// OpenSessionLog creates (or truncates) the session log in the given
// directory.
func OpenSessionLog(directory, name string) (*SessionLog, error) {
	path := filepath.Join(directory, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session log %s: %w", path, err)
	}
	return &SessionLog{path: path, file: file}, nil
}

// Path returns the log's location in the results mount.
func (l *SessionLog) Path() string { return l.path }

// Writer returns the sink for child process output. The underlying
// file write is shared with Note; both append whole lines, so
// interleaving stays line-granular.
func (l *SessionLog) Writer() io.Writer { return l.file }

// Note appends one timestamped orchestrator line.
func (l *SessionLog) Note(format string, args ...any) {
	if l.closed {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close flushes and closes the log. Safe to call twice: both the
// teardown path and the results stager close it.
func (l *SessionLog) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("syncing session log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing session log: %w", err)
	}
	return nil
}
