//go:build (linux && !android) || darwin

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

func testFactory(t *testing.T) *PosixFactory {
	t.Helper()
	return NewPosixFactoryWithBaseDir(t.TempDir())
}

func TestPosixCreateWriteRead(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("roundtrip", 1024)
	require.NoError(t, err)
	defer region.Close()

	info, err := region.Write(1, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, 11, info.Length)
	assert.Equal(t, 1024, info.Capacity)

	data, err := region.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	info, err = region.Info()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, 11, info.Length)
}

func TestPosixCapacityExceeded(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("too_small", 10)
	require.NoError(t, err)
	defer region.Close()

	_, err = region.Write(1, []byte("this is too long"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindDataTooLarge))

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 16, e.DataLen)
	assert.Equal(t, 10, e.Capacity)
}

func TestPosixWriteAtExactCapacity(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("exact", 8)
	require.NoError(t, err)
	defer region.Close()

	_, err = region.Write(1, []byte("12345678"))
	require.NoError(t, err)

	_, err = region.Write(2, []byte("123456789"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindDataTooLarge))
}

func TestPosixZeroCapacity(t *testing.T) {
	factory := testFactory(t)
	_, err := factory.Create("zero", 0)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidCapacity))
}

func TestPosixListAndExists(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("list_test", 100)
	require.NoError(t, err)
	defer region.Close()

	assert.True(t, factory.Exists("list_test"))
	assert.False(t, factory.Exists("nonexistent"))
	assert.Contains(t, factory.List(), "list_test")
}

func TestPosixCrossHandleVisibility(t *testing.T) {
	factory := testFactory(t)
	owner, err := factory.Create("cross_visibility", 64)
	require.NoError(t, err)
	defer owner.Close()

	_, err = owner.Write(7, []byte("payload"))
	require.NoError(t, err)

	secondary, err := factory.Open("cross_visibility")
	require.NoError(t, err)
	defer secondary.Close()

	info, err := secondary.Info()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), info.Version)
	assert.Equal(t, 7, info.Length)

	data, err := secondary.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPosixSecondaryCloseKeepsFile(t *testing.T) {
	factory := testFactory(t)
	owner, err := factory.Create("keep_file", 64)
	require.NoError(t, err)

	path := owner.(*posixRegion).Path()

	secondary, err := factory.Open("keep_file")
	require.NoError(t, err)
	require.NoError(t, secondary.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err, "secondary close must not unlink the backing file")

	require.NoError(t, owner.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "owning close must unlink the backing file")
}

func TestPosixOpenUnknownName(t *testing.T) {
	factory := testFactory(t)
	_, err := factory.Open("never_created")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestPosixOpenCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memio_corrupt_1_0_0.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, core.HeaderSize+32), 0o600))

	factory := NewPosixFactoryWithBaseDir(dir)
	_, err := factory.OpenPath("corrupt", path)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidHeader))
}

func TestPosixRemove(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("remove_me", 32)
	require.NoError(t, err)
	path := region.(*posixRegion).Path()

	require.NoError(t, factory.Remove("remove_me"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	err = factory.Remove("remove_me")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestExtractPIDFromFilename(t *testing.T) {
	cases := []struct {
		filename string
		pid      int
		ok       bool
	}{
		{"memio_state_1234_0_0.bin", 1234, true},
		{"memio_with_underscores_in_name_99_7_0.bin", 99, true},
		{"memio_shared_registry_4321.txt", 4321, true},
		{"memio_state.bin", 0, false},
		{"unrelated.bin", 0, false},
		{"memio_state_notanumber_0_0.bin", 0, false},
	}
	for _, tc := range cases {
		pid, ok := extractPIDFromFilename(tc.filename)
		assert.Equal(t, tc.ok, ok, tc.filename)
		if tc.ok {
			assert.Equal(t, tc.pid, pid, tc.filename)
		}
	}
}

func TestCleanupOrphanedFiles(t *testing.T) {
	dir := t.TempDir()
	log := utils.NewLogger(utils.LoggerConfig{Level: utils.ERROR, Output: os.Stderr})

	ghost := filepath.Join(dir, "memio_ghost_999999_0_0.bin")
	require.NoError(t, os.WriteFile(ghost, []byte{0}, 0o600))

	live := filepath.Join(dir, filepath.Base(
		NewPosixFactoryWithBaseDir(dir).generatePath("live")))
	require.NoError(t, os.WriteFile(live, []byte{0}, 0o600))

	other := filepath.Join(dir, "not_memio.bin")
	require.NoError(t, os.WriteFile(other, []byte{0}, 0o600))

	CleanupOrphanedFiles(dir, log)

	_, err := os.Stat(ghost)
	assert.True(t, os.IsNotExist(err), "dead PID's file must be deleted")
	_, err = os.Stat(live)
	assert.NoError(t, err, "live PID's file must be retained")
	_, err = os.Stat(other)
	assert.NoError(t, err, "unrelated files must be untouched")
}

func TestPosixSeqLockOverRegionHeader(t *testing.T) {
	factory := testFactory(t)
	region, err := factory.Create("seqlocked", 64)
	require.NoError(t, err)
	defer region.Close()

	lock, err := core.NewSeqLock(region.(*posixRegion).data)
	require.NoError(t, err)

	lock.BeginWrite()
	_, err = region.Write(1, []byte("guarded"))
	require.NoError(t, err)
	lock.EndWrite()

	sample := lock.ReadBegin()
	data, err := region.Read()
	require.NoError(t, err)
	assert.True(t, lock.ReadEnd(sample))
	assert.Equal(t, []byte("guarded"), data)
}
