//go:build windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// mappingPrefix is prepended to every mapping name; mappings live in the
// session-local namespace.
const mappingPrefix = `Local\MemioTauri_`

// winCounter feeds the unique mapping-name generator.
var winCounter atomic.Uint64

type winMapping struct {
	mappingName string
	capacity    int
}

// winRegistry maps logical names to mapping names and capacities.
// winActive parks deliberately leaked secondary handles so browser-bridge
// buffers survive across command invocations; entries stay alive until Remove
// or the owning region's Close.
var (
	winMu       sync.Mutex
	winRegistry = make(map[string]winMapping)
	winActive   = make(map[string]*windowsRegion)
)

// windowsRegion is a shared region backed by a named file mapping.
type windowsRegion struct {
	name        string
	mappingName string
	handle      windows.Handle
	data        []byte
	total       int
	capacity    int
	ownsHandle  bool
}

func (r *windowsRegion) Capacity() int {
	return r.capacity
}

func (r *windowsRegion) Info() (core.StateInfo, error) {
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
		FD:       -1,
		Version:  version,
		Length:   length,
		Capacity: r.capacity,
	}, nil
}

func (r *windowsRegion) Write(version uint64, data []byte) (core.StateInfo, error) {
	if len(data) > r.capacity {
		return core.StateInfo{}, core.ErrDataTooLarge(len(data), r.capacity)
	}

	copy(r.data[core.HeaderSize:], data)
	core.PutU64(r.data, core.LengthOffset, uint64(len(data)))
	core.StoreVersion(r.data, version)

	if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&r.data[0])), uintptr(r.total)); err != nil {
		return core.StateInfo{}, core.ErrIo(err)
	}

	return core.StateInfo{
		Name:     r.name,
		FD:       -1,
		Version:  version,
		Length:   len(data),
		Capacity: r.capacity,
	}, nil
}

func (r *windowsRegion) Read() ([]byte, error) {
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

func (r *windowsRegion) Version() (uint64, error) {
	if !core.ValidateMagic(r.data) {
		return 0, core.ErrInvalidHeader()
	}
	return core.LoadVersion(r.data), nil
}

func (r *windowsRegion) DataPtr() unsafe.Pointer {
	return unsafe.Pointer(&r.data[core.HeaderSize])
}

func (r *windowsRegion) MutDataPtr() unsafe.Pointer {
	return unsafe.Pointer(&r.data[core.HeaderSize])
}

// Close unmaps the view and closes the handle. Only the owning region removes
// the registry entry; closing a secondary view must not take down the name
// the owner still serves.
func (r *windowsRegion) Close() error {
	var firstErr error
	if r.data != nil {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&r.data[0]))); err != nil {
			firstErr = core.ErrIo(err)
		}
		r.data = nil
	}
	if r.handle != 0 {
		if err := windows.CloseHandle(r.handle); err != nil && firstErr == nil {
			firstErr = core.ErrIo(err)
		}
		r.handle = 0
	}
	if r.ownsHandle {
		winMu.Lock()
		delete(winRegistry, r.name)
		if parked, ok := winActive[r.name]; ok {
			delete(winActive, r.name)
			winMu.Unlock()
			parked.Close()
		} else {
			winMu.Unlock()
		}
	}
	return firstErr
}

// MappingName returns the full session-namespace mapping name.
func (r *windowsRegion) MappingName() string {
	return r.mappingName
}

func mapView(handle windows.Handle, total int) ([]byte, error) {
	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(total))
	if err != nil {
		return nil, core.ErrMmapFailed(err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), total), nil
}

func createWindowsRegion(name string, capacity int) (*windowsRegion, error) {
	if capacity <= 0 {
		return nil, core.ErrInvalidCapacity()
	}

	total := core.HeaderSize + capacity
	mappingName := fmt.Sprintf("%s%s_%d_%d", mappingPrefix, name, os.Getpid(), winCounter.Add(1)-1)

	namePtr, err := windows.UTF16PtrFromString(mappingName)
	if err != nil {
		return nil, core.ErrCreateFailed(err)
	}

	handle, err := windows.CreateFileMapping(
		windows.InvalidHandle,
		nil,
		windows.PAGE_READWRITE,
		uint32(uint64(total)>>32),
		uint32(uint64(total)&0xFFFFFFFF),
		namePtr,
	)
	if err != nil {
		return nil, core.ErrCreateFailed(err)
	}

	data, err := mapView(handle, total)
	if err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	core.WriteHeaderUnchecked(data, 0, 0)

	winMu.Lock()
	winRegistry[name] = winMapping{mappingName: mappingName, capacity: capacity}
	winMu.Unlock()

	return &windowsRegion{
		name:        name,
		mappingName: mappingName,
		handle:      handle,
		data:        data,
		total:       total,
		capacity:    capacity,
		ownsHandle:  true,
	}, nil
}

func openWindowsRegion(name string) (*windowsRegion, error) {
	winMu.Lock()
	mapping, ok := winRegistry[name]
	winMu.Unlock()
	if !ok {
		return nil, core.ErrNotFound(name)
	}

	total := core.HeaderSize + mapping.capacity

	namePtr, err := windows.UTF16PtrFromString(mapping.mappingName)
	if err != nil {
		return nil, core.ErrOpenFailed(err)
	}

	handle, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, namePtr)
	if err != nil {
		return nil, core.ErrOpenFailed(err)
	}

	data, err := mapView(handle, total)
	if err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	return &windowsRegion{
		name:        name,
		mappingName: mapping.mappingName,
		handle:      handle,
		data:        data,
		total:       total,
		capacity:    mapping.capacity,
		ownsHandle:  false,
	}, nil
}

// WindowsFactory creates regions backed by named file mappings.
type WindowsFactory struct {
	log *utils.Logger
}

// NewWindowsFactory creates a new factory.
func NewWindowsFactory() *WindowsFactory {
	return &WindowsFactory{log: utils.DefaultLogger("memio.windows")}
}

// Create allocates a new named mapping and returns the owning handle.
func (f *WindowsFactory) Create(name string, capacity int) (core.Region, error) {
	return createWindowsRegion(name, capacity)
}

// Open returns a secondary view onto an existing mapping.
func (f *WindowsFactory) Open(name string) (core.Region, error) {
	return openWindowsRegion(name)
}

// List returns the registered logical names.
func (f *WindowsFactory) List() []string {
	winMu.Lock()
	defer winMu.Unlock()
	names := make([]string, 0, len(winRegistry))
	for name := range winRegistry {
		names = append(names, name)
	}
	return names
}

// Exists reports whether a logical name is registered.
func (f *WindowsFactory) Exists(name string) bool {
	winMu.Lock()
	defer winMu.Unlock()
	_, ok := winRegistry[name]
	return ok
}

// Remove drops the registry entry and releases any parked keep-alive handle.
func (f *WindowsFactory) Remove(name string) error {
	winMu.Lock()
	_, ok := winRegistry[name]
	delete(winRegistry, name)
	parked := winActive[name]
	delete(winActive, name)
	winMu.Unlock()
	if parked != nil {
		parked.Close()
	}
	if !ok {
		return core.ErrNotFound(name)
	}
	return nil
}

// KeepAlive opens a secondary view and parks it in the active table so the
// mapping survives even when every caller-held handle is closed. Used by
// bridge buffers whose consumers outlive individual command invocations.
func KeepAlive(name string) error {
	winMu.Lock()
	_, already := winActive[name]
	winMu.Unlock()
	if already {
		return nil
	}
	region, err := openWindowsRegion(name)
	if err != nil {
		return err
	}
	winMu.Lock()
	winActive[name] = region
	winMu.Unlock()
	return nil
}

// newPlatformFactory returns the Windows factory.
func newPlatformFactory() (core.Factory, error) {
	return NewWindowsFactory(), nil
}

// defaultManifestPath returns the per-process manifest location. Mappings
// have no filesystem paths, so the manifest only advertises names.
func defaultManifestPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("memio_shared_registry_%d.txt", os.Getpid()))
}

// cleanupOrphans is a no-op: named mappings vanish when their last handle
// closes.
func cleanupOrphans(log *utils.Logger) {}
