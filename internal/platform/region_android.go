//go:build android

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// Android regions are anonymous memfd-backed mappings. Descriptors have no
// path, so the process-wide table below is the sole discovery mechanism; the
// fd itself is the transfer handle to other language runtimes.
var (
	androidMu      sync.Mutex
	androidRegions = make(map[string]*androidRegion)
)

// androidNonce feeds the unique memfd name generator.
var androidNonce atomic.Uint64

// androidRegion is a shared region over an anonymous file descriptor. The
// owning handle holds the fd; secondary handles carry fd -1 and share the
// owner's mapping, so their Close must not tear anything down.
type androidRegion struct {
	name     string
	fd       int
	data     []byte
	total    int
	capacity int
}

func (r *androidRegion) Capacity() int {
	return r.capacity
}

func (r *androidRegion) Info() (core.StateInfo, error) {
	if !core.ValidateMagic(r.data) {
		return core.StateInfo{}, core.ErrInvalidHeader()
	}
	version := core.LoadVersion(r.data)
	length, _ := core.ReadLength(r.data)
	if length > r.capacity {
		return core.StateInfo{}, core.ErrInvalidHeader()
	}
	return core.StateInfo{
		Name:     r.name,
		FD:       r.fd,
		Version:  version,
		Length:   length,
		Capacity: r.capacity,
	}, nil
}

func (r *androidRegion) Write(version uint64, data []byte) (core.StateInfo, error) {
	if len(data) > r.capacity {
		return core.StateInfo{}, core.ErrDataTooLarge(len(data), r.capacity)
	}

	copy(r.data[core.HeaderSize:], data)
	core.PutU64(r.data, core.LengthOffset, uint64(len(data)))
	core.StoreVersion(r.data, version)

	return core.StateInfo{
		Name:     r.name,
		FD:       r.fd,
		Version:  version,
		Length:   len(data),
		Capacity: r.capacity,
	}, nil
}

func (r *androidRegion) Read() ([]byte, error) {
	if !core.ValidateMagic(r.data) {
		return nil, core.ErrInvalidHeader()
	}
	_ = core.LoadVersion(r.data)
	length, _ := core.ReadLength(r.data)
	if length > r.capacity {
		return nil, core.ErrInvalidHeader()
	}

	out := make([]byte, length)
	copy(out, r.data[core.HeaderSize:core.HeaderSize+length])
	return out, nil
}

func (r *androidRegion) Version() (uint64, error) {
	if !core.ValidateMagic(r.data) {
		return 0, core.ErrInvalidHeader()
	}
	return core.LoadVersion(r.data), nil
}

func (r *androidRegion) DataPtr() unsafe.Pointer {
	return unsafe.Pointer(&r.data[core.HeaderSize])
}

func (r *androidRegion) MutDataPtr() unsafe.Pointer {
	return unsafe.Pointer(&r.data[core.HeaderSize])
}

// Close releases the owning handle's mapping and descriptor. Secondary
// handles share the owner's mapping and release nothing.
func (r *androidRegion) Close() error {
	if r.fd < 0 {
		return nil
	}
	var firstErr error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			firstErr = core.ErrIo(err)
		}
		r.data = nil
	}
	if err := unix.Close(r.fd); err != nil && firstErr == nil {
		firstErr = core.ErrIo(err)
	}
	r.fd = -1
	return firstErr
}

// FD returns the descriptor for handing to other language runtimes, -1 on a
// secondary handle.
func (r *androidRegion) FD() int {
	return r.fd
}

// TotalSize returns the mapping size including the header.
func (r *androidRegion) TotalSize() int {
	return r.total
}

// BasePtr returns the address of the whole mapping (header + payload).
func (r *androidRegion) BasePtr() unsafe.Pointer {
	return unsafe.Pointer(&r.data[0])
}

// AndroidFactory creates anonymous shared regions.
type AndroidFactory struct {
	log *utils.Logger
}

// NewAndroidFactory creates a new factory.
func NewAndroidFactory() *AndroidFactory {
	return &AndroidFactory{log: utils.DefaultLogger("memio.android")}
}

// Create allocates an anonymous region. The owning handle is stored in the
// process-wide table; the returned handle is a secondary view.
func (f *AndroidFactory) Create(name string, capacity int) (core.Region, error) {
	if capacity <= 0 {
		return nil, core.ErrInvalidCapacity()
	}

	total := core.HeaderSize + capacity
	memfdName := fmt.Sprintf("memio_%s_%d_%d", name, os.Getpid(), androidNonce.Add(1)-1)

	fd, err := unix.MemfdCreate(memfdName, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, core.ErrCreateFailed(err)
	}
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		unix.Close(fd)
		return nil, core.ErrCreateFailed(err)
	}

	data, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, core.ErrMmapFailed(err)
	}

	core.WriteHeaderUnchecked(data, 0, 0)

	owner := &androidRegion{
		name:     name,
		fd:       fd,
		data:     data,
		total:    total,
		capacity: capacity,
	}

	androidMu.Lock()
	if previous, ok := androidRegions[name]; ok {
		previous.Close()
	}
	androidRegions[name] = owner
	androidMu.Unlock()

	return &androidRegion{
		name:     name,
		fd:       -1,
		data:     data,
		total:    total,
		capacity: capacity,
	}, nil
}

// Open returns a secondary view onto a region created in this process.
func (f *AndroidFactory) Open(name string) (core.Region, error) {
	androidMu.Lock()
	defer androidMu.Unlock()
	owner, ok := androidRegions[name]
	if !ok {
		return nil, core.ErrNotFound(name)
	}
	return &androidRegion{
		name:     owner.name,
		fd:       -1,
		data:     owner.data,
		total:    owner.total,
		capacity: owner.capacity,
	}, nil
}

// List returns the names in the process-wide table.
func (f *AndroidFactory) List() []string {
	androidMu.Lock()
	defer androidMu.Unlock()
	names := make([]string, 0, len(androidRegions))
	for name := range androidRegions {
		names = append(names, name)
	}
	return names
}

// Exists reports whether a region with the given name is registered.
func (f *AndroidFactory) Exists(name string) bool {
	androidMu.Lock()
	defer androidMu.Unlock()
	_, ok := androidRegions[name]
	return ok
}

// Remove closes the owning handle and drops the table entry.
func (f *AndroidFactory) Remove(name string) error {
	androidMu.Lock()
	owner, ok := androidRegions[name]
	if ok {
		delete(androidRegions, name)
	}
	androidMu.Unlock()
	if !ok {
		return core.ErrNotFound(name)
	}
	return owner.Close()
}

// CreateSharedRegion creates a region and returns the owning descriptor for
// handing across the language boundary.
func CreateSharedRegion(name string, capacity int) (int, error) {
	factory := NewAndroidFactory()
	if _, err := factory.Create(name, capacity); err != nil {
		return -1, err
	}
	return GetSharedFD(name)
}

// WriteToShared writes into a named region through the process-wide table.
func WriteToShared(name string, version uint64, data []byte) error {
	androidMu.Lock()
	owner, ok := androidRegions[name]
	androidMu.Unlock()
	if !ok {
		return core.ErrNotFound(name)
	}
	_, err := owner.Write(version, data)
	return err
}

// ReadFromShared reads a named region's version and payload.
func ReadFromShared(name string) (uint64, []byte, error) {
	androidMu.Lock()
	owner, ok := androidRegions[name]
	androidMu.Unlock()
	if !ok {
		return 0, nil, core.ErrNotFound(name)
	}
	info, err := owner.Info()
	if err != nil {
		return 0, nil, err
	}
	data, err := owner.Read()
	if err != nil {
		return 0, nil, err
	}
	return info.Version, data, nil
}

// GetSharedFD returns the owning descriptor of a named region.
func GetSharedFD(name string) (int, error) {
	androidMu.Lock()
	defer androidMu.Unlock()
	owner, ok := androidRegions[name]
	if !ok {
		return -1, core.ErrNotFound(name)
	}
	return owner.FD(), nil
}

// GetSharedPtr returns the base address and total size of a named region.
func GetSharedPtr(name string) (unsafe.Pointer, int, error) {
	androidMu.Lock()
	defer androidMu.Unlock()
	owner, ok := androidRegions[name]
	if !ok {
		return nil, 0, core.ErrNotFound(name)
	}
	return owner.BasePtr(), owner.TotalSize(), nil
}

// ListSharedRegions lists all registered region names.
func ListSharedRegions() []string {
	return NewAndroidFactory().List()
}

// HasSharedRegion reports whether a named region exists.
func HasSharedRegion(name string) bool {
	return NewAndroidFactory().Exists(name)
}

// newPlatformFactory returns the Android factory.
func newPlatformFactory() (core.Factory, error) {
	return NewAndroidFactory(), nil
}

// defaultManifestPath returns the per-process manifest location. Anonymous
// regions have no paths, so the manifest only advertises names.
func defaultManifestPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s%d.txt", "memio_shared_registry_", os.Getpid()))
}

// cleanupOrphans is a no-op: anonymous regions die with their process.
func cleanupOrphans(log *utils.Logger) {}
