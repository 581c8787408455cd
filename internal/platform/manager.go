package platform

import (
	"os"
	"sync"
	"time"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// WriteResult reports the outcome of a buffer write.
type WriteResult struct {
	Version uint64
	Length  int
}

// ReadResult carries a buffer's payload and its version.
type ReadResult struct {
	Data    []byte
	Version uint64
}

// pathOpener is implemented by factories whose regions can be mapped directly
// from a filesystem path.
type pathOpener interface {
	OpenPath(name, path string) (core.Region, error)
}

// Manager is the thread-safe façade over the registry. Every operation takes
// the manager mutex; contention is the only source of blocking besides
// WaitForChange's deliberate polling.
type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	overrides map[string]core.Region
	log       *utils.Logger
}

// NewManager sweeps orphaned regions from dead processes and constructs a
// manager over the platform default registry.
func NewManager() (*Manager, error) {
	registry, err := NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	return NewManagerWithRegistry(registry), nil
}

// NewManagerWithRegistry wraps an existing registry. The manager assumes
// ownership: Close closes the registry.
func NewManagerWithRegistry(registry *Registry) *Manager {
	return &Manager{
		registry:  registry,
		overrides: make(map[string]core.Region),
		log:       utils.DefaultLogger("memio.manager"),
	}
}

// CreateBuffer creates and registers a new region.
func (m *Manager) CreateBuffer(name string, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.CreateBuffer(name, capacity)
}

// region resolves a name to a region under the manager lock. Unknown names
// fall back to the MEMIO_SHARED_PATH override when the platform supports
// open-by-path.
func (m *Manager) region(name string) (core.Region, error) {
	if region := m.registry.Get(name); region != nil {
		return region, nil
	}
	if region, ok := m.overrides[name]; ok {
		return region, nil
	}

	path := os.Getenv(SharedPathEnvVar)
	if path == "" {
		return nil, core.ErrNotFound(name)
	}
	opener, ok := m.registry.Factory().(pathOpener)
	if !ok {
		return nil, core.ErrNotFound(name)
	}
	region, err := opener.OpenPath(name, path)
	if err != nil {
		return nil, core.ErrNotFound(name)
	}
	m.log.Info("opened region from shared path override",
		utils.String("name", name), utils.String("path", path))
	m.overrides[name] = region
	return region, nil
}

// Write publishes data under version into the named buffer.
func (m *Manager) Write(name string, version uint64, data []byte) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(name)
	if err != nil {
		return WriteResult{}, err
	}
	info, err := region.Write(version, data)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Version: info.Version, Length: info.Length}, nil
}

// Read returns the named buffer's payload and version.
func (m *Manager) Read(name string) (ReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(name)
	if err != nil {
		return ReadResult{}, err
	}
	info, err := region.Info()
	if err != nil {
		return ReadResult{}, err
	}
	data, err := region.Read()
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Data: data, Version: info.Version}, nil
}

// Version returns the named buffer's current version without reading the
// payload. This is the cheap polling path: a single 64-bit load.
func (m *Manager) Version(name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(name)
	if err != nil {
		return 0, err
	}
	return region.Version()
}

// Info returns the named buffer's metadata.
func (m *Manager) Info(name string) (core.StateInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	region, err := m.region(name)
	if err != nil {
		return core.StateInfo{}, err
	}
	return region.Info()
}

// WaitForChange polls the buffer's version every pollInterval until it
// differs from lastVersion or timeout elapses. On change it performs a full
// read and returns the result; on timeout it returns nil.
//
// Polling is the only portable change-notification mechanism across the
// supported platforms, and matches the dominant frame-polling consumer.
func (m *Manager) WaitForChange(name string, lastVersion uint64, timeout, pollInterval time.Duration) (*ReadResult, error) {
	start := time.Now()
	for {
		current, err := m.Version(name)
		if err != nil {
			return nil, err
		}
		if current != lastVersion {
			result, err := m.Read(name)
			if err != nil {
				return nil, err
			}
			return &result, nil
		}
		if time.Since(start) >= timeout {
			return nil, nil
		}
		time.Sleep(pollInterval)
	}
}

// HasBuffer reports whether the named buffer is registered.
func (m *Manager) HasBuffer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Exists(name)
}

// ListBuffers returns all registered buffer names.
func (m *Manager) ListBuffers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.ListNames()
}

// RemoveBuffer unregisters and releases the named buffer.
func (m *Manager) RemoveBuffer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Remove(name)
}

// RegistryPath returns the manifest file path.
func (m *Manager) RegistryPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Path()
}

// Close releases override handles and the registry with all its regions.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, region := range m.overrides {
		if err := region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.overrides, name)
	}
	if err := m.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
