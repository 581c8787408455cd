package platform

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// RegistryEnvVar is exported with the manifest path so child processes can
// locate this process's regions.
const RegistryEnvVar = "MEMIO_SHARED_REGISTRY"

// SharedPathEnvVar optionally overrides a single region's backing path.
const SharedPathEnvVar = "MEMIO_SHARED_PATH"

// registryEntry pairs a backing path with the owning region handle.
type registryEntry struct {
	path   string
	region core.Region
}

// Registry maps logical names to owning regions within one process and keeps
// an on-disk manifest so cooperating processes can discover them. The
// manifest is a hint; authoritative state is the in-memory map.
//
// Registry itself is not safe for concurrent use; Manager wraps it behind a
// mutex.
type Registry struct {
	factory      core.Factory
	manifestPath string
	entries      map[string]*registryEntry

	// filter answers negative Exists lookups without touching the map or
	// the factory. Names are never removed from it; false positives fall
	// through to the real lookup.
	filter *bloom.BloomFilter

	log *utils.Logger
}

// NewRegistry creates a registry over factory with its manifest at
// manifestPath, and exports the manifest location into the environment.
func NewRegistry(factory core.Factory, manifestPath string) (*Registry, error) {
	r := &Registry{
		factory:      factory,
		manifestPath: manifestPath,
		entries:      make(map[string]*registryEntry),
		filter:       bloom.NewWithEstimates(1024, 0.01),
		log:          utils.DefaultLogger("memio.registry"),
	}
	if err := os.Setenv(RegistryEnvVar, manifestPath); err != nil {
		return nil, core.ErrIo(err)
	}
	return r, nil
}

// NewDefaultRegistry creates a registry with the current platform's factory
// and manifest location, sweeping orphaned files from dead processes first.
func NewDefaultRegistry() (*Registry, error) {
	log := utils.DefaultLogger("memio.registry")
	cleanupOrphans(log)

	factory, err := NewFactory()
	if err != nil {
		return nil, err
	}
	return NewRegistry(factory, DefaultManifestPath())
}

// CreateBuffer creates a region through the factory, stores the owning
// handle, and rewrites the manifest.
func (r *Registry) CreateBuffer(name string, capacity int) error {
	region, err := r.factory.Create(name, capacity)
	if err != nil {
		return err
	}

	path := ""
	if info, err := region.Info(); err == nil {
		path = info.Path
	}

	if previous, ok := r.entries[name]; ok {
		previous.region.Close()
	}
	r.entries[name] = &registryEntry{path: path, region: region}
	r.filter.AddString(name)

	if err := r.writeManifest(); err != nil {
		r.log.Warn("manifest write failed", utils.String("path", r.manifestPath), utils.Err(err))
	}
	return nil
}

// Get returns the stored region for name, or nil when unknown.
func (r *Registry) Get(name string) core.Region {
	entry, ok := r.entries[name]
	if !ok {
		return nil
	}
	return entry.region
}

// Exists reports whether name is registered. The bloom filter rejects
// never-seen names without a map lookup.
func (r *Registry) Exists(name string) bool {
	if !r.filter.TestString(name) {
		return false
	}
	_, ok := r.entries[name]
	return ok
}

// Remove closes the owning region, drops the entry, and rewrites the
// manifest.
func (r *Registry) Remove(name string) error {
	entry, ok := r.entries[name]
	if !ok {
		return core.ErrNotFound(name)
	}
	delete(r.entries, name)
	err := entry.region.Close()

	if werr := r.writeManifest(); werr != nil {
		r.log.Warn("manifest write failed", utils.String("path", r.manifestPath), utils.Err(werr))
	}
	return err
}

// ListNames returns the registered names in sorted order.
func (r *Registry) ListNames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the manifest path.
func (r *Registry) Path() string {
	return r.manifestPath
}

// Factory returns the underlying factory.
func (r *Registry) Factory() core.Factory {
	return r.factory
}

// Close deletes the manifest and closes every owning region.
func (r *Registry) Close() error {
	var firstErr error
	for name, entry := range r.entries {
		if err := entry.region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.entries, name)
	}
	if err := os.Remove(r.manifestPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn("failed to remove manifest file", utils.String("path", r.manifestPath), utils.Err(err))
		if firstErr == nil {
			firstErr = core.ErrIo(err)
		}
	}
	return firstErr
}

// writeManifest rewrites the full name=path manifest. The write lands in a
// temp file first and renames over the manifest so readers never observe a
// partial file.
func (r *Registry) writeManifest() error {
	var out strings.Builder
	for _, name := range r.ListNames() {
		out.WriteString(name)
		out.WriteByte('=')
		out.WriteString(r.entries[name].path)
		out.WriteByte('\n')
	}

	dir := filepath.Dir(r.manifestPath)
	tmp, err := os.CreateTemp(dir, ".memio_manifest_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(out.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, r.manifestPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// ParseManifest parses the newline-delimited name=path records of a manifest
// file. Reads are best-effort; malformed lines are skipped.
func ParseManifest(data []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, path, ok := strings.Cut(line, "=")
		if !ok || name == "" {
			continue
		}
		out[name] = path
	}
	return out
}
