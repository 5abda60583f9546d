// Package pidfile provides a single-instance guard backed by a PID file
// held under an exclusive flock for the life of the process.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrRunning is returned when another process holds the lock.
var ErrRunning = errors.New("pidfile: another instance is running")

// File is an acquired PID file. The lock lives as long as the descriptor.
type File struct {
	path string
	pid  int
	f    *os.File
}

// Acquire locks path and writes the current PID into it. A file left by a
// dead process carries no lock and is simply taken over.
func Acquire(path string) (*File, error) {
	return acquire(path, os.Getpid())
}

func acquire(path string, pid int) (*File, error) {
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("pidfile: open %s: %w", path, err)
		}

		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				if owner, rerr := Read(path); rerr == nil {
					return nil, fmt.Errorf("%w (pid %d)", ErrRunning, owner)
				}
				return nil, ErrRunning
			}
			return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
		}

		// The previous holder may have unlinked the file between our open
		// and flock; then we locked an orphan inode.
		if !samePath(f, path) {
			_ = f.Close()
			continue
		}

		if err := writePID(f, pid); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
		}
		return &File{path: path, pid: pid, f: f}, nil
	}
	return nil, fmt.Errorf("%w: %s keeps being replaced", ErrRunning, path)
}

func samePath(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

// Read returns the PID stored in path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile: malformed %s", path)
	}
	return pid, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Release unlinks the file while still holding the lock, then closes the
// descriptor. Calling it again is a no-op.
func (f *File) Release() error {
	if f.f == nil {
		return nil
	}
	var rmErr error
	if samePath(f.f, f.path) {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			rmErr = err
		}
	}
	cerr := f.f.Close()
	f.f = nil
	return errors.Join(rmErr, cerr)
}
