package envfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout bounds how long a writer waits for the lease before
// giving up on that write.
const DefaultLockTimeout = 10 * time.Second

// lockRetryDelay is the poll interval while waiting for the advisory lock.
const lockRetryDelay = 100 * time.Millisecond

// LockTimeoutError reports that the guard could not be acquired in time.
// It is fatal for the single write that wanted it, never for the run.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timeout acquiring lock on %s after %s", e.Path, e.Timeout)
}

// Guard serializes writes to a backing file across processes using a
// sibling .lock file with an OS advisory lock. Reads outside the guard are
// advisory; every write under the guard re-reads the file before merging,
// so stale reads cannot cause blind overwrites.
type Guard struct {
	path        string
	lockTimeout time.Duration
}

// NewGuard returns a guard for the backing file at path.
func NewGuard(path string) *Guard {
	return &Guard{path: path, lockTimeout: DefaultLockTimeout}
}

// SetLockTimeout overrides the lock acquisition bound.
func (g *Guard) SetLockTimeout(d time.Duration) {
	g.lockTimeout = d
}

// Path returns the backing file path the guard protects.
func (g *Guard) Path() string {
	return g.path
}

func (g *Guard) lockPath() string {
	return g.path + ".lock"
}

// Lease is a held guard lock. Release is idempotent and must be called on
// every exit path from the critical section.
type Lease struct {
	fl       *flock.Flock
	released bool
}

// Release drops the lock. Calling it more than once is a no-op.
func (l *Lease) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	return l.fl.Unlock()
}

// Acquire takes the advisory lock, polling until it is held or the guard's
// timeout elapses. The caller owns the returned lease.
func (g *Guard) Acquire(ctx context.Context) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return nil, fmt.Errorf("create backing file directory: %w", err)
	}

	lockCtx := ctx
	if g.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, g.lockTimeout)
		defer cancel()
	}

	fl := flock.New(g.lockPath())
	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if !ok {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &LockTimeoutError{Path: g.lockPath(), Timeout: g.lockTimeout}
		}
		return nil, fmt.Errorf("acquire lock on %s: %w", g.lockPath(), err)
	}

	return &Lease{fl: fl}, nil
}

// Load reads and parses the current backing file without mutating it. The
// lock is taken so a concurrent writer's rename cannot be interleaved, but
// if it cannot be acquired in time the read falls back to lockless
// best-effort, matching the behavior callers have always relied on. A
// missing file yields an empty store.
func (g *Guard) Load(ctx context.Context) (*Store, error) {
	lease, err := g.Acquire(ctx)
	if err != nil {
		var timeout *LockTimeoutError
		if !errors.As(err, &timeout) {
			return nil, err
		}
	}
	defer func() { _ = lease.Release() }()

	return loadFile(g.path)
}

// Update runs one guarded read-modify-write cycle: acquire the lease,
// re-read and parse the on-disk bytes, apply the caller's delta, serialize,
// and atomically replace the file. If apply returns an error nothing is
// written and the previous snapshot is untouched.
func (g *Guard) Update(ctx context.Context, apply func(*Store) error) error {
	lease, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release() }()

	st, err := loadFile(g.path)
	if err != nil {
		return err
	}

	if err := apply(st); err != nil {
		return err
	}

	return writeAtomic(g.path, st.Serialize())
}

func loadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// writeAtomic writes data to a temporary file in the same directory and
// renames it over path, so readers observe either the old or the new
// complete content, never a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
