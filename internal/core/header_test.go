package core

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundtrip(t *testing.T) {
	buf := make([]byte, HeaderSize+100)
	require.True(t, WriteHeaderUnchecked(buf, 42, 50))
	require.True(t, ValidateMagic(buf))

	version, length, ok := ReadHeader(buf, 100)
	require.True(t, ok)
	assert.Equal(t, uint64(42), version)
	assert.Equal(t, 50, length)
}

func TestHeaderInvalidMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	assert.False(t, ValidateMagic(buf))

	_, _, ok := ReadHeader(buf, 100)
	assert.False(t, ok)
}

func TestHeaderShortBufferNotMutated(t *testing.T) {
	buf := make([]byte, HeaderSize-1)
	snapshot := make([]byte, len(buf))
	copy(snapshot, buf)

	assert.False(t, WriteHeaderUnchecked(buf, 1, 1))
	assert.Error(t, WriteHeader(buf, 1, 1))
	assert.True(t, bytes.Equal(snapshot, buf), "short buffer must not be mutated")

	assert.False(t, ValidateMagic(buf))
	_, ok := ReadVersion(buf)
	assert.False(t, ok)
	_, ok = ReadLength(buf)
	assert.False(t, ok)
}

func TestHeaderFieldAccessors(t *testing.T) {
	buf := make([]byte, HeaderSize)
	require.NoError(t, WriteHeader(buf, 123, 7))

	version, ok := ReadVersion(buf)
	require.True(t, ok)
	assert.Equal(t, uint64(123), version)

	length, ok := ReadLength(buf)
	require.True(t, ok)
	assert.Equal(t, 7, length)
}

func TestHeaderLengthExceedsCapacity(t *testing.T) {
	buf := make([]byte, HeaderSize)
	require.True(t, WriteHeaderUnchecked(buf, 1, 200))

	_, _, ok := ReadHeader(buf, 100)
	assert.False(t, ok, "length beyond capacity must invalidate the header")
}

func TestHeaderLittleEndianLayout(t *testing.T) {
	buf := make([]byte, HeaderSize)
	require.True(t, WriteHeaderUnchecked(buf, 0x0102030405060708, 0x11))

	// Magic 0x545552424F534852 ("TURBOSHR") stored little-endian: 'R' 'H' 'S' 'O' 'B' 'R' 'U' 'T'.
	assert.Equal(t, []byte("RHSOBRUT"), buf[MagicOffset:MagicOffset+8])
	assert.Equal(t, byte(0x08), buf[VersionOffset])
	assert.Equal(t, byte(0x01), buf[VersionOffset+7])
	assert.Equal(t, byte(0x11), buf[LengthOffset])
}

func TestHeaderPointerForms(t *testing.T) {
	buf := make([]byte, HeaderSize+64)
	ptr := unsafe.Pointer(&buf[0])

	WriteHeaderPtr(ptr, 9, 32)
	version, length, ok := ReadHeaderPtr(ptr, 64)
	require.True(t, ok)
	assert.Equal(t, uint64(9), version)
	assert.Equal(t, 32, length)

	// The pointer and slice codecs must agree bit for bit.
	sliceVersion, sliceLength, sliceOK := ReadHeader(buf, 64)
	require.True(t, sliceOK)
	assert.Equal(t, version, sliceVersion)
	assert.Equal(t, length, sliceLength)

	StoreVersionPtr(ptr, 10)
	assert.Equal(t, uint64(10), LoadVersionPtr(ptr))
	assert.Equal(t, uint64(10), LoadVersion(buf))
}

func TestHeaderMatchesSharedStateSpec(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "shared_state_spec.json"))
	require.NoError(t, err, "shared_state_spec.json must ship at the repository root")

	var spec struct {
		MagicHex   string `json:"magic_hex"`
		HeaderSize int    `json:"header_size"`
		Endianness string `json:"endianness"`
		Offsets    struct {
			Magic    int `json:"magic"`
			Version  int `json:"version"`
			Length   int `json:"length"`
			SeqBegin int `json:"seq_begin"`
			SeqEnd   int `json:"seq_end"`
		} `json:"offsets"`
	}
	require.NoError(t, json.Unmarshal(data, &spec))

	magic, err := strconv.ParseUint(strings.TrimPrefix(spec.MagicHex, "0x"), 16, 64)
	require.NoError(t, err)

	assert.Equal(t, HeaderMagic, magic)
	assert.Equal(t, HeaderSize, spec.HeaderSize)
	assert.Equal(t, HeaderEndianness, spec.Endianness)
	assert.Equal(t, MagicOffset, spec.Offsets.Magic)
	assert.Equal(t, VersionOffset, spec.Offsets.Version)
	assert.Equal(t, LengthOffset, spec.Offsets.Length)
	assert.Equal(t, SeqBeginOffset, spec.Offsets.SeqBegin)
	assert.Equal(t, SeqEndOffset, spec.Offsets.SeqEnd)
}

func BenchmarkWriteHeader(b *testing.B) {
	buf := make([]byte, HeaderSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		WriteHeaderUnchecked(buf, uint64(i), 32)
	}
}

func BenchmarkReadHeader(b *testing.B) {
	buf := make([]byte, HeaderSize)
	WriteHeaderUnchecked(buf, 7, 32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReadHeader(buf, 64)
	}
}
