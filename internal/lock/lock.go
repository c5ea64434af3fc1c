// Package lock provides the per-project advisory run lock. Acquisition
// never waits: a second run for the same project fails immediately and
// reports when the holder started.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	apperr "github.com/klauern/docsync/internal/errors"
)

// Lock is a held project lock.
type Lock struct {
	file      *os.File
	path      string
	StartedAt time.Time
}

// Holder describes the process owning a lock.
type Holder struct {
	StartedAt time.Time
	PID       int
}

// Path returns the lock file used for a project.
func Path(dir, project string) string {
	return filepath.Join(dir, project+".lock")
}

// Acquire takes the exclusive lock for project without blocking.
// On contention it returns a LockContention error naming the holder's
// start time.
func Acquire(dir, project string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	p := Path(dir, project)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o640) // #nosec G304 - path is built from the configured lock dir
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			holder := ReadHolder(p)
			return nil, apperr.Newf(apperr.ErrLockContention,
				"previous run of %s (started at %s) is still running",
				project, holder.StartedAt.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to lock %s: %w", p, err)
	}

	l := &Lock{file: f, path: p, StartedAt: time.Now()}
	if err := l.writeHolder(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *Lock) writeHolder() error {
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to reset lock file: %w", err)
	}
	content := fmt.Sprintf("%s\n%d\n", l.StartedAt.Format(time.RFC3339Nano), os.Getpid())
	if _, err := l.file.WriteAt([]byte(content), 0); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return l.file.Sync()
}

// Release unlocks and closes the lock file. The file itself stays in
// place so concurrent acquirers always lock the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// ReadHolder reports who wrote the lock file. When the content is missing
// or unreadable the file's modification time stands in for the start time.
func ReadHolder(path string) Holder {
	var h Holder

	f, err := os.Open(path) // #nosec G304 - lock file path
	if err != nil {
		return h
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(sc.Text())); err == nil {
			h.StartedAt = t
		}
	}
	if sc.Scan() {
		h.PID, _ = strconv.Atoi(strings.TrimSpace(sc.Text()))
	}

	if h.StartedAt.IsZero() {
		if info, err := f.Stat(); err == nil {
			h.StartedAt = info.ModTime()
		}
	}
	return h
}
