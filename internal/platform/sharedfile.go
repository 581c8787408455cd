//go:build (linux && !android) || darwin

package platform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/nmxmxh/memio/internal/core"
)

// sharedFileCounter feeds the cache destination name generator.
var sharedFileCounter atomic.Uint64

// SharedFileCache copies files into the shared-memory directory so peer
// processes can read them without disk I/O. The copy is refreshed only when
// the source's size or mtime changes.
type SharedFileCache struct {
	destPath  string
	lastSize  int64
	lastMtime int64
}

// NewSharedFileCache allocates a cache destination in the default base
// directory.
func NewSharedFileCache() (*SharedFileCache, error) {
	id := sharedFileCounter.Add(1) - 1
	dest := filepath.Join(DefaultBaseDir(), fmt.Sprintf("memio_shared_%d_%d.bin", os.Getpid(), id))
	return &SharedFileCache{destPath: dest}, nil
}

// CopyIfChanged copies source to the cache destination when it has changed
// since the last copy, and returns the destination path.
func (c *SharedFileCache) CopyIfChanged(source string) (string, error) {
	stat, err := os.Stat(source)
	if err != nil {
		return "", core.ErrIo(err)
	}
	size := stat.Size()
	mtime := stat.ModTime().UnixMilli()

	if size != c.lastSize || mtime != c.lastMtime {
		if err := copyFile(source, c.destPath); err != nil {
			return "", core.ErrIo(err)
		}
		c.lastSize = size
		c.lastMtime = mtime
	}
	return c.destPath, nil
}

// DestPath returns the cache destination path.
func (c *SharedFileCache) DestPath() string {
	return c.destPath
}

// Remove deletes the cached copy.
func (c *SharedFileCache) Remove() error {
	if err := os.Remove(c.destPath); err != nil && !os.IsNotExist(err) {
		return core.ErrIo(err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
