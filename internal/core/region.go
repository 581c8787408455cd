package core

import "unsafe"

// StateInfo is the in-process view of a region's metadata.
type StateInfo struct {
	// Name is the logical name the region was registered under.
	Name string
	// Path is the backing file path, empty on platforms whose regions have
	// no filesystem identity.
	Path string
	// FD is the backing descriptor, -1 when the platform exposes none or
	// the handle is a secondary view.
	FD int
	// Version is the last writer-stamped sequence number, zero before the
	// first write.
	Version uint64
	// Length is the number of meaningful payload bytes.
	Length int
	// Capacity is the payload capacity, excluding the header.
	Capacity int
}

// Region is a contiguous, named, memory-mapped byte range with a fixed header
// and an opaque payload. At most one writer per region is assumed by design;
// two concurrent writers race and the last write wins.
type Region interface {
	// Capacity returns the payload capacity in bytes.
	Capacity() int

	// Info reads the header and returns the region metadata.
	Info() (StateInfo, error)

	// Write copies data into the payload area, then publishes the new
	// version and length so that a reader observing the version also
	// observes the payload.
	Write(version uint64, data []byte) (StateInfo, error)

	// Read copies the current payload into a fresh slice.
	Read() ([]byte, error)

	// Version loads only the header's version field. This is the cheap
	// change-detection path; it does not validate the payload.
	Version() (uint64, error)

	// DataPtr returns the address of the payload area for cross-language
	// binding surfaces. In-process consumers should prefer Read/Write.
	DataPtr() unsafe.Pointer

	// MutDataPtr returns the writable address of the payload area.
	MutDataPtr() unsafe.Pointer

	// Close releases this handle. An owning handle unmaps and unlinks the
	// backing storage; a secondary handle releases only its own view.
	Close() error
}

// Factory creates and resolves named regions for one platform. It is the sole
// component that emits owning handles (Create) and secondary handles (Open).
type Factory interface {
	// Create allocates backing storage of HeaderSize+capacity bytes, maps
	// it, and stamps the header. The POSIX and Windows factories return the
	// owning handle; the Android factory keeps the owning handle in its
	// process-wide table and returns a secondary view.
	Create(name string, capacity int) (Region, error)

	// Open maps an existing region by logical name and returns a secondary
	// handle after validating the magic.
	Open(name string) (Region, error)

	// List returns the logical names known to this factory.
	List() []string

	// Exists reports whether a region with the given name is known.
	Exists(name string) bool

	// Remove unregisters a region and releases its backing storage.
	Remove(name string) error
}
