// Package runlog persists one record per completed or failed run to
// append-only JSON-lines files. Records are never rewritten; rotation
// happens between entries, never through one.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ocrd/pkg/types"
)

// Policy selects how the active log file rotates.
type Policy string

const (
	// Daily writes runs-YYYYMMDD.log, switching at midnight local time.
	Daily Policy = "daily"
	// Session writes runs-<id>.log for the lifetime of the process.
	Session Policy = "session"
)

// writeError signals an unwritable log destination. It must never
// displace the primary run outcome.
type writeError struct{ err error }

func (e writeError) Error() string { return "run log write: " + e.err.Error() }
func (e writeError) Unwrap() error { return e.err }

// IsWriteError reports whether err is a run-log write failure.
func IsWriteError(err error) bool {
	_, ok := err.(writeError)
	return ok
}

// Logger appends run records under dir according to the policy.
type Logger struct {
	dir     string
	policy  Policy
	session string

	mu     sync.Mutex
	f      *os.File
	target string

	// now is a test hook.
	now func() time.Time
}

// New builds a Logger. The directory is created on first append, not
// here, so construction never fails.
func New(dir string, policy Policy) *Logger {
	if policy != Session {
		policy = Daily
	}
	return &Logger{
		dir:     dir,
		policy:  policy,
		session: uuid.NewString()[:8],
		now:     time.Now,
	}
}

// SessionID identifies this process's log session.
func (l *Logger) SessionID() string { return l.session }

// Path returns the file the next entry would be appended to.
func (l *Logger) Path() string {
	return filepath.Join(l.dir, l.fileName(l.now()))
}

func (l *Logger) fileName(t time.Time) string {
	if l.policy == Session {
		return fmt.Sprintf("runs-%s.log", l.session)
	}
	return fmt.Sprintf("runs-%s.log", t.Format("20060102"))
}

// Append writes one entry and returns once it is durably on disk.
// The rotation decision is made before the write so an entry never
// spans two files. Failures come back as IsWriteError errors.
func (l *Logger) Append(entry types.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return writeError{err: err}
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	target := l.fileName(entry.Time)
	if l.f == nil || target != l.target {
		if l.f != nil {
			_ = l.f.Close()
			l.f = nil
		}
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return writeError{err: err}
		}
		f, err := os.OpenFile(filepath.Join(l.dir, target), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return writeError{err: err}
		}
		l.f = f
		l.target = target
	}
	if _, err := l.f.Write(line); err != nil {
		return writeError{err: err}
	}
	if err := l.f.Sync(); err != nil {
		return writeError{err: err}
	}
	return nil
}

// Close releases the active file. Further appends reopen it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.target = ""
	return err
}
