package core

import (
	"errors"
	"fmt"
)

// Kind classifies a memio failure. Kinds mirror the error contract shared
// with peer language runtimes, so they stay coarse and stable.
type Kind int

const (
	KindInvalidCapacity Kind = iota
	KindCreateFailed
	KindOpenFailed
	KindMmapFailed
	KindInvalidHeader
	KindDataTooLarge
	KindNotFound
	KindArenaFull
	KindAlignment
	KindSerialization
	KindDeserialization
	KindLockPoisoned
	KindIo
	KindPlatformNotSupported
	KindInternal
)

var kindNames = map[Kind]string{
	KindInvalidCapacity:      "InvalidCapacity",
	KindCreateFailed:         "CreateFailed",
	KindOpenFailed:           "OpenFailed",
	KindMmapFailed:           "MmapFailed",
	KindInvalidHeader:        "InvalidHeader",
	KindDataTooLarge:         "DataTooLarge",
	KindNotFound:             "NotFound",
	KindArenaFull:            "ArenaFull",
	KindAlignment:            "Alignment",
	KindSerialization:        "Serialization",
	KindDeserialization:      "Deserialization",
	KindLockPoisoned:         "LockPoisoned",
	KindIo:                   "Io",
	KindPlatformNotSupported: "PlatformNotSupported",
	KindInternal:             "Internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by every memio operation. Size-bearing
// kinds (DataTooLarge, ArenaFull, Alignment) populate the numeric fields so
// callers can inspect the exact limits without parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// DataTooLarge
	DataLen  int
	Capacity int

	// ArenaFull
	Requested int
	Available int

	// Alignment
	Expected int
	Actual   int
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind, so errors.Is(err, &Error{Kind: KindNotFound}) works for
// any NotFound error regardless of the attached name or diagnostic.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or KindInternal when err is not a memio
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// ErrInvalidCapacity reports a zero or unsupported capacity at create time.
func ErrInvalidCapacity() *Error {
	return &Error{Kind: KindInvalidCapacity, Msg: "invalid capacity"}
}

// ErrCreateFailed reports an OS refusal during region creation.
func ErrCreateFailed(err error) *Error {
	return &Error{Kind: KindCreateFailed, Msg: "create failed", Err: err}
}

// ErrOpenFailed reports an OS refusal during region open.
func ErrOpenFailed(err error) *Error {
	return &Error{Kind: KindOpenFailed, Msg: "open failed", Err: err}
}

// ErrMmapFailed reports a mapping failure.
func ErrMmapFailed(err error) *Error {
	return &Error{Kind: KindMmapFailed, Msg: "memory mapping failed", Err: err}
}

// ErrInvalidHeader reports a magic mismatch or a length exceeding capacity.
func ErrInvalidHeader() *Error {
	return &Error{Kind: KindInvalidHeader, Msg: "invalid header"}
}

// ErrDataTooLarge reports a write exceeding the region capacity.
func ErrDataTooLarge(dataLen, capacity int) *Error {
	return &Error{
		Kind:     KindDataTooLarge,
		Msg:      fmt.Sprintf("data (%d bytes) exceeds capacity (%d bytes)", dataLen, capacity),
		DataLen:  dataLen,
		Capacity: capacity,
	}
}

// ErrNotFound reports an unknown region name.
func ErrNotFound(name string) *Error {
	return &Error{Kind: KindNotFound, Msg: "region not found: " + name}
}

// ErrArenaFull reports arena exhaustion.
func ErrArenaFull(requested, available int) *Error {
	return &Error{
		Kind:      KindArenaFull,
		Msg:       fmt.Sprintf("arena allocation failed: requested %d bytes, available %d", requested, available),
		Requested: requested,
		Available: available,
	}
}

// ErrAlignment reports an alignment contract violation.
func ErrAlignment(expected, actual int) *Error {
	return &Error{
		Kind:     KindAlignment,
		Msg:      fmt.Sprintf("alignment error: expected %d, got %d", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// ErrSerialization reports a serializer failure.
func ErrSerialization(err error) *Error {
	return &Error{Kind: KindSerialization, Msg: "serialization error", Err: err}
}

// ErrDeserialization reports a deserializer failure.
func ErrDeserialization(err error) *Error {
	return &Error{Kind: KindDeserialization, Msg: "deserialization error", Err: err}
}

// ErrLockPoisoned reports a panic raised while a state lock was held.
func ErrLockPoisoned(diag string) *Error {
	return &Error{Kind: KindLockPoisoned, Msg: "lock poisoned: " + diag}
}

// ErrIo wraps a lower-level I/O failure.
func ErrIo(err error) *Error {
	return &Error{Kind: KindIo, Msg: "io error", Err: err}
}

// ErrPlatformNotSupported reports use on a platform without a region
// implementation.
func ErrPlatformNotSupported() *Error {
	return &Error{Kind: KindPlatformNotSupported, Msg: "platform not supported"}
}
