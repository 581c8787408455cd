package core

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Shared-state header layout.
// The authoritative values live in shared_state_spec.json at the repository
// root; peer language runtimes consume that document directly, so any change
// here must update both sides together.
const (
	// HeaderMagic identifies a memio shared-state buffer. Read as big-endian
	// hex it spells "TURBOSHR"; stored little-endian its bytes are "RHSOBRUT".
	HeaderMagic uint64 = 0x545552424F534852

	// HeaderSize is the total header size in bytes. The header occupies a
	// single cache line on common architectures.
	HeaderSize = 64

	// Byte offsets of the header fields. All fields are little-endian
	// regardless of host byte order.
	MagicOffset   = 0
	VersionOffset = 8
	LengthOffset  = 16

	// Reserved area: offsets 24..64 must be zero unless the seq-lock
	// extension is in use (see seqlock.go).
	ReservedOffset = 24
	ReservedSize   = 40

	// HeaderEndianness names the byte order of multi-byte header fields.
	HeaderEndianness = "little"
)

// ValidateMagic reports whether buf is at least header-sized and starts with
// the magic bytes.
func ValidateMagic(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	return ReadU64(buf, MagicOffset) == HeaderMagic
}

// WriteHeader stores magic, version, and length into buf.
func WriteHeader(buf []byte, version uint64, length int) error {
	if len(buf) < HeaderSize {
		return &Error{Kind: KindInvalidHeader, Msg: "header buffer too small"}
	}
	PutU64(buf, MagicOffset, HeaderMagic)
	PutU64(buf, VersionOffset, version)
	PutU64(buf, LengthOffset, uint64(length))
	return nil
}

// WriteHeaderUnchecked stores magic, version, and length into buf.
// Returns false without mutating buf when it is shorter than HeaderSize.
func WriteHeaderUnchecked(buf []byte, version uint64, length int) bool {
	if len(buf) < HeaderSize {
		return false
	}
	PutU64(buf, MagicOffset, HeaderMagic)
	PutU64(buf, VersionOffset, version)
	PutU64(buf, LengthOffset, uint64(length))
	return true
}

// ReadHeader reads and validates the header. It returns ok=false when the
// buffer is too small, the magic mismatches, or the stored length exceeds
// capacity.
func ReadHeader(buf []byte, capacity int) (version uint64, length int, ok bool) {
	if len(buf) < HeaderSize {
		return 0, 0, false
	}
	if ReadU64(buf, MagicOffset) != HeaderMagic {
		return 0, 0, false
	}
	version = ReadU64(buf, VersionOffset)
	length = int(ReadU64(buf, LengthOffset))
	if length > capacity {
		return 0, 0, false
	}
	return version, length, true
}

// ReadVersion reads the version field from the header.
func ReadVersion(buf []byte) (uint64, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	return ReadU64(buf, VersionOffset), true
}

// ReadLength reads the length field from the header.
func ReadLength(buf []byte) (int, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	return int(ReadU64(buf, LengthOffset)), true
}

// LoadVersion atomically loads the version field from a mapped buffer.
// The load carries acquire semantics: a reader that observes a new version
// also observes the payload stored before the matching StoreVersion.
func LoadVersion(buf []byte) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[VersionOffset])))
}

// StoreVersion atomically stores the version field into a mapped buffer with
// release semantics. Callers must store the payload and length first.
func StoreVersion(buf []byte, version uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[VersionOffset])), version)
}

// ReadHeaderPtr reads and validates the header at a raw address. The caller
// guarantees ptr is valid for at least HeaderSize+capacity bytes.
func ReadHeaderPtr(ptr unsafe.Pointer, capacity int) (version uint64, length int, ok bool) {
	if ptr == nil {
		return 0, 0, false
	}
	if ReadU64Ptr(ptr, MagicOffset) != HeaderMagic {
		return 0, 0, false
	}
	version = ReadU64Ptr(ptr, VersionOffset)
	length = int(ReadU64Ptr(ptr, LengthOffset))
	if length > capacity {
		return 0, 0, false
	}
	return version, length, true
}

// WriteHeaderPtr stores magic, version, and length at a raw address. The
// caller guarantees ptr is valid for at least HeaderSize bytes.
func WriteHeaderPtr(ptr unsafe.Pointer, version uint64, length int) {
	PutU64Ptr(ptr, MagicOffset, HeaderMagic)
	PutU64Ptr(ptr, VersionOffset, version)
	PutU64Ptr(ptr, LengthOffset, uint64(length))
}

// LoadVersionPtr atomically loads the version field at a raw address.
func LoadVersionPtr(ptr unsafe.Pointer) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Add(ptr, VersionOffset)))
}

// StoreVersionPtr atomically stores the version field at a raw address with
// release semantics.
func StoreVersionPtr(ptr unsafe.Pointer, version uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Add(ptr, VersionOffset)), version)
}

// ReadU64 reads a little-endian u64 from buf at offset.
func ReadU64(buf []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buf[offset : offset+8])
}

// PutU64 writes a little-endian u64 into buf at offset.
func PutU64(buf []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], value)
}

// ReadU64Ptr reads a little-endian u64 at ptr+offset.
func ReadU64Ptr(ptr unsafe.Pointer, offset int) uint64 {
	var scratch [8]byte
	copy(scratch[:], unsafe.Slice((*byte)(unsafe.Add(ptr, offset)), 8))
	return binary.LittleEndian.Uint64(scratch[:])
}

// PutU64Ptr writes a little-endian u64 at ptr+offset.
func PutU64Ptr(ptr unsafe.Pointer, offset int, value uint64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], value)
	copy(unsafe.Slice((*byte)(unsafe.Add(ptr, offset)), 8), scratch[:])
}
