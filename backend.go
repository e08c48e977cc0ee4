package profilefs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Backend performs primitive byte-level file I/O. Names are slash separated
// and relative to the backend root. Reading a missing file returns an error
// matching fs.ErrNotExist; removing a missing file is not an error.
type Backend interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte) error
	Remove(ctx context.Context, name string) error
	RemoveAll(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// DiskBackend stores files under a directory of the host file system. Every
// write goes to a temporary file that is renamed over the target, so a crash
// leaves either the old or the new content.
type DiskBackend struct {
	root string
}

// NewDiskBackend returns a backend rooted at dir.
func NewDiskBackend(dir string) *DiskBackend {
	return &DiskBackend{root: dir}
}

// Root returns the directory the backend writes to.
func (d *DiskBackend) Root() string {
	return d.root
}

func (d *DiskBackend) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

func (d *DiskBackend) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(d.path(name))
}

func (d *DiskBackend) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := d.path(name)
	if err := os.MkdirAll(filepath.Dir(p), dirPerms); err != nil {
		return err
	}
	return atomic.WriteFile(p, bytes.NewReader(data))
}

func (d *DiskBackend) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(d.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *DiskBackend) RemoveAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.RemoveAll(d.path(name))
}

// Exists checks if a file exists using [os.Stat].
func (d *DiskBackend) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(d.path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Flush syncs the root directory so completed renames are durable.
func (d *DiskBackend) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := os.Open(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer dir.Close()
	// Some platforms reject fsync on directories.
	if err := dir.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}

// AbsBackend adapts any absfs.FileSystem into a Backend. Operations are
// serialized since absfs implementations need not be safe for concurrent use.
type AbsBackend struct {
	mu   sync.Mutex
	fs   absfs.FileSystem
	root string
}

// NewAbsBackend returns a backend storing files below root inside fsys.
func NewAbsBackend(fsys absfs.FileSystem, root string) (*AbsBackend, error) {
	if fsys == nil {
		return nil, ErrNilBackend
	}
	if root == "" {
		root = "/"
	}
	return &AbsBackend{fs: fsys, root: root}, nil
}

// NewMemoryBackend returns a backend over a fresh in-memory file system.
func NewMemoryBackend() (*AbsBackend, error) {
	mfs, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return NewAbsBackend(mfs, "/")
}

func (b *AbsBackend) path(name string) string {
	return path.Join(b.root, strings.TrimPrefix(path.Clean("/"+name), "/"))
}

func (b *AbsBackend) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.path(name)
	if ok, err := b.exists(p); err != nil {
		return nil, err
	} else if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}

	f, err := b.fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (b *AbsBackend) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.path(name)
	if err := b.fs.MkdirAll(path.Dir(p), dirPerms); err != nil {
		return err
	}

	f, err := b.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *AbsBackend) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.path(name)
	if ok, err := b.exists(p); err != nil || !ok {
		return err
	}
	return b.fs.Remove(p)
}

func (b *AbsBackend) RemoveAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.path(name)
	if ok, err := b.exists(p); err != nil || !ok {
		return err
	}
	return b.fs.RemoveAll(p)
}

func (b *AbsBackend) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.exists(b.path(name))
}

func (b *AbsBackend) exists(p string) (bool, error) {
	_, err := b.fs.Stat(p)
	if err == nil {
		return true, nil
	}
	// a file in place of a parent directory also means the path is absent
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return false, nil
	}
	return false, err
}
