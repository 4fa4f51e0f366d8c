package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	lockFile       = "state.lock"
	defaultTimeout = 2 * time.Second
	pollMin        = 5 * time.Millisecond
	pollMax        = 50 * time.Millisecond
)

// ErrLockTimeout is wrapped by every LockTimeoutError.
var ErrLockTimeout = errors.New("state lock busy")

// Holder describes the process that owns the state lock.
type Holder struct {
	PID     int       `json:"pid"`
	Command string    `json:"command"`
	Since   time.Time `json:"since"`
}

func (h *Holder) String() string {
	if h == nil {
		return "unknown"
	}
	s := fmt.Sprintf("pid %d (%s) since %s", h.PID, h.Command, h.Since.Format(time.RFC3339))
	if !isProcessAlive(h.PID) {
		s += ", process gone"
	}
	return s
}

// LockTimeoutError reports who held the lock when acquire gave up.
type LockTimeoutError struct {
	Waited time.Duration
	Holder *Holder
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("state lock busy after %v: held by %s", e.Waited, e.Holder)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// writeLocker guards read-modify-write cycles on the state database.
// The CLI and a running `labsync watch` share one state dir, so the lock is
// an OS file lock rather than a mutex; the OS drops it if the owner dies.
type writeLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(baseDir string) *writeLocker {
	return &writeLocker{path: filepath.Join(baseDir, stateDir, lockFile)}
}

func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	start := time.Now()
	wait := pollMin
	for l.tryLock() != nil {
		if time.Since(start) >= timeout {
			holder := l.holder()
			f.Close()
			l.f = nil
			return &LockTimeoutError{Waited: timeout, Holder: holder}
		}
		time.Sleep(wait)
		wait = min(wait*2, pollMax)
	}
	l.stamp()
	return nil
}

func (l *writeLocker) release() error {
	if l.f == nil {
		return nil
	}
	l.f.Truncate(0)
	l.unlock()
	err := l.f.Close()
	l.f = nil
	return err
}

// stamp records the current process as the holder.
func (l *writeLocker) stamp() {
	data, _ := json.Marshal(Holder{
		PID:     os.Getpid(),
		Command: filepath.Base(os.Args[0]),
		Since:   time.Now().UTC().Truncate(time.Second),
	})
	l.f.Truncate(0)
	l.f.WriteAt(data, 0)
	l.f.Sync()
}

// holder reads the stamp left by the current owner, nil if there is none.
func (l *writeLocker) holder() *Holder {
	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}
