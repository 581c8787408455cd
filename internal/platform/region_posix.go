//go:build (linux && !android) || darwin

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// shmBasePath is the preferred base directory for region files.
const shmBasePath = "/dev/shm"

// filePrefix marks every file this package owns in the base directory.
const filePrefix = "memio_"

// registryFilePrefix marks per-process manifest files.
const registryFilePrefix = "memio_shared_registry_"

// posixNonce feeds the unique-filename generator.
var posixNonce atomic.Uint64

// posixPaths is the process-wide name -> path table backing open-by-name.
var (
	posixPathsMu sync.Mutex
	posixPaths   = make(map[string]string)
)

// DefaultBaseDir returns /dev/shm when present, the system temp directory
// otherwise.
func DefaultBaseDir() string {
	if _, err := os.Stat(shmBasePath); err == nil {
		return shmBasePath
	}
	return os.TempDir()
}

// posixRegion is a shared region backed by a memory-mapped file.
type posixRegion struct {
	name     string
	path     string
	file     *os.File
	data     []byte
	capacity int
	owns     bool
}

func (p *posixRegion) Capacity() int {
	return p.capacity
}

func (p *posixRegion) Info() (core.StateInfo, error) {
	if !core.ValidateMagic(p.data) {
		return core.StateInfo{}, core.ErrInvalidHeader()
	}
	version := core.LoadVersion(p.data)
	length, _ := core.ReadLength(p.data)
	if length > p.capacity {
		return core.StateInfo{}, core.ErrInvalidHeader()
	}
	return core.StateInfo{
		Name:     p.name,
		Path:     p.path,
		FD:       -1,
		Version:  version,
		Length:   length,
		Capacity: p.capacity,
	}, nil
}

func (p *posixRegion) Write(version uint64, data []byte) (core.StateInfo, error) {
	if len(data) > p.capacity {
		return core.StateInfo{}, core.ErrDataTooLarge(len(data), p.capacity)
	}

	copy(p.data[core.HeaderSize:], data)

	// Length first, then the version store publishes both: a reader that
	// observes the new version also observes the payload and length.
	core.PutU64(p.data, core.LengthOffset, uint64(len(data)))
	core.StoreVersion(p.data, version)

	if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
		return core.StateInfo{}, core.ErrIo(err)
	}

	return core.StateInfo{
		Name:     p.name,
		Path:     p.path,
		FD:       -1,
		Version:  version,
		Length:   len(data),
		Capacity: p.capacity,
	}, nil
}

func (p *posixRegion) Read() ([]byte, error) {
	if !core.ValidateMagic(p.data) {
		return nil, core.ErrInvalidHeader()
	}
	_ = core.LoadVersion(p.data)
	length, _ := core.ReadLength(p.data)
	if length > p.capacity {
		return nil, core.ErrInvalidHeader()
	}

	out := make([]byte, length)
	copy(out, p.data[core.HeaderSize:core.HeaderSize+length])
	return out, nil
}

func (p *posixRegion) Version() (uint64, error) {
	if !core.ValidateMagic(p.data) {
		return 0, core.ErrInvalidHeader()
	}
	return core.LoadVersion(p.data), nil
}

func (p *posixRegion) DataPtr() unsafe.Pointer {
	return unsafe.Pointer(&p.data[core.HeaderSize])
}

func (p *posixRegion) MutDataPtr() unsafe.Pointer {
	return unsafe.Pointer(&p.data[core.HeaderSize])
}

// Close unmaps the region. An owning handle also unlinks the backing file and
// removes the name from the process-wide path table; a secondary handle
// leaves both in place.
func (p *posixRegion) Close() error {
	var firstErr error
	if p.data != nil {
		if err := unix.Munmap(p.data); err != nil {
			firstErr = core.ErrIo(err)
		}
		p.data = nil
	}
	if p.file != nil {
		if err := p.file.Close(); err != nil && firstErr == nil {
			firstErr = core.ErrIo(err)
		}
		p.file = nil
	}
	if p.owns {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = core.ErrIo(err)
		}
		posixPathsMu.Lock()
		delete(posixPaths, p.name)
		posixPathsMu.Unlock()
	}
	return firstErr
}

// Path returns the backing file path of this region.
func (p *posixRegion) Path() string {
	return p.path
}

// PosixFactory creates file-backed regions under a base directory.
type PosixFactory struct {
	baseDir string
	log     *utils.Logger
}

// NewPosixFactory creates a factory rooted at the default base directory.
func NewPosixFactory() *PosixFactory {
	return NewPosixFactoryWithBaseDir(DefaultBaseDir())
}

// NewPosixFactoryWithBaseDir creates a factory rooted at baseDir. Useful for
// tests and for hosts without /dev/shm.
func NewPosixFactoryWithBaseDir(baseDir string) *PosixFactory {
	return &PosixFactory{
		baseDir: baseDir,
		log:     utils.DefaultLogger("memio.posix"),
	}
}

// BaseDir returns the directory region files are created in.
func (f *PosixFactory) BaseDir() string {
	return f.baseDir
}

func (f *PosixFactory) generatePath(name string) string {
	pid := os.Getpid()
	nonce := posixNonce.Add(1) - 1
	filename := fmt.Sprintf("%s%s_%d_%d_%d.bin", filePrefix, name, pid, nonce, 0)
	return filepath.Join(f.baseDir, filename)
}

func (f *PosixFactory) openOrCreate(name, path string, capacity int, create bool) (core.Region, error) {
	fileLen := core.HeaderSize + capacity

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if create {
			return nil, core.ErrCreateFailed(err)
		}
		return nil, core.ErrOpenFailed(err)
	}

	if create {
		if err := file.Truncate(int64(fileLen)); err != nil {
			file.Close()
			return nil, core.ErrCreateFailed(err)
		}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, fileLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, core.ErrMmapFailed(err)
	}

	if create {
		core.WriteHeaderUnchecked(data, 0, 0)
	} else if !core.ValidateMagic(data) {
		unix.Munmap(data)
		file.Close()
		return nil, core.ErrInvalidHeader()
	}

	posixPathsMu.Lock()
	posixPaths[name] = path
	posixPathsMu.Unlock()

	return &posixRegion{
		name:     name,
		path:     path,
		file:     file,
		data:     data,
		capacity: capacity,
		owns:     create,
	}, nil
}

// Create allocates a new region file and returns the owning handle.
func (f *PosixFactory) Create(name string, capacity int) (core.Region, error) {
	if capacity <= 0 {
		return nil, core.ErrInvalidCapacity()
	}
	return f.openOrCreate(name, f.generatePath(name), capacity, true)
}

// Open maps an existing region by name and returns a secondary handle.
func (f *PosixFactory) Open(name string) (core.Region, error) {
	posixPathsMu.Lock()
	path, ok := posixPaths[name]
	posixPathsMu.Unlock()
	if !ok {
		return nil, core.ErrNotFound(name)
	}
	return f.OpenPath(name, path)
}

// OpenPath maps a region file directly from its path, inferring the capacity
// from the file size. Used for the MEMIO_SHARED_PATH override and for peers
// that discovered the path through a manifest.
func (f *PosixFactory) OpenPath(name, path string) (core.Region, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, core.ErrOpenFailed(err)
	}
	fileLen := int(stat.Size())
	if fileLen < core.HeaderSize {
		return nil, core.ErrInvalidHeader()
	}
	return f.openOrCreate(name, path, fileLen-core.HeaderSize, false)
}

// List returns the names in the process-wide path table.
func (f *PosixFactory) List() []string {
	posixPathsMu.Lock()
	defer posixPathsMu.Unlock()
	names := make([]string, 0, len(posixPaths))
	for name := range posixPaths {
		names = append(names, name)
	}
	return names
}

// Exists reports whether a region is registered and its file still exists.
func (f *PosixFactory) Exists(name string) bool {
	posixPathsMu.Lock()
	path, ok := posixPaths[name]
	posixPathsMu.Unlock()
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Remove unregisters a region and unlinks its backing file.
func (f *PosixFactory) Remove(name string) error {
	posixPathsMu.Lock()
	path, ok := posixPaths[name]
	if ok {
		delete(posixPaths, name)
	}
	posixPathsMu.Unlock()
	if !ok {
		return core.ErrNotFound(name)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.ErrIo(err)
	}
	return nil
}

// CleanupOrphanedFiles removes memio files in baseDir whose embedded PID no
// longer corresponds to a live process. Safe to call at startup; failures are
// logged, never fatal.
func CleanupOrphanedFiles(baseDir string, log *utils.Logger) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		log.Warn("failed to scan for orphaned files", utils.String("dir", baseDir), utils.Err(err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}
		pid, ok := extractPIDFromFilename(name)
		if !ok {
			continue
		}
		if processAlive(pid) {
			continue
		}
		path := filepath.Join(baseDir, name)
		if err := os.Remove(path); err != nil {
			log.Warn("failed to remove orphaned file", utils.String("path", path), utils.Err(err))
		} else {
			log.Info("cleaned up orphaned memio file", utils.String("path", path), utils.Int("pid", pid))
		}
	}
}

// extractPIDFromFilename parses the PID field out of a memio file name.
// Data files: memio_<name>_<pid>_<nonce>_<seq>.bin (the name may itself
// contain underscores, so the PID is third from the end). Manifest files:
// memio_shared_registry_<pid>.txt.
func extractPIDFromFilename(filename string) (int, bool) {
	if strings.HasPrefix(filename, registryFilePrefix) && strings.HasSuffix(filename, ".txt") {
		middle := strings.TrimSuffix(strings.TrimPrefix(filename, registryFilePrefix), ".txt")
		pid, err := strconv.Atoi(middle)
		return pid, err == nil
	}

	if strings.HasSuffix(filename, ".bin") {
		parts := strings.Split(strings.TrimSuffix(filename, ".bin"), "_")
		if len(parts) < 5 {
			return 0, false
		}
		pid, err := strconv.Atoi(parts[len(parts)-3])
		return pid, err == nil
	}

	return 0, false
}

// processAlive reports whether a PID belongs to a live process, via /proc
// where available and a zero signal otherwise.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if _, err := os.Stat("/proc"); err == nil {
		_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
		return err == nil
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// newPlatformFactory returns the POSIX factory.
func newPlatformFactory() (core.Factory, error) {
	return NewPosixFactory(), nil
}

// defaultManifestPath returns the per-process manifest location.
func defaultManifestPath() string {
	return filepath.Join(DefaultBaseDir(), fmt.Sprintf("%s%d.txt", registryFilePrefix, os.Getpid()))
}

// cleanupOrphans sweeps the default base directory.
func cleanupOrphans(log *utils.Logger) {
	CleanupOrphanedFiles(DefaultBaseDir(), log)
}
