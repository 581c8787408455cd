package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqLockQuiescentReadIsConsistent(t *testing.T) {
	buf := make([]byte, HeaderSize+32)
	WriteHeaderUnchecked(buf, 0, 0)

	lock, err := NewSeqLock(buf)
	require.NoError(t, err)

	sample := lock.ReadBegin()
	assert.True(t, lock.ReadEnd(sample), "no writer means no tearing")
}

func TestSeqLockDetectsWriteInProgress(t *testing.T) {
	buf := make([]byte, HeaderSize+32)
	WriteHeaderUnchecked(buf, 0, 0)
	lock, err := NewSeqLock(buf)
	require.NoError(t, err)

	sample := lock.ReadBegin()
	lock.BeginWrite()
	assert.False(t, lock.ReadEnd(sample), "a write that began mid-read must invalidate it")

	lock.EndWrite()
	sample = lock.ReadBegin()
	assert.True(t, lock.ReadEnd(sample))
}

func TestSeqLockTooSmallBuffer(t *testing.T) {
	_, err := NewSeqLock(make([]byte, HeaderSize-1))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidHeader))
}

func TestSeqLockReadConsistentRetries(t *testing.T) {
	buf := make([]byte, HeaderSize+8)
	WriteHeaderUnchecked(buf, 0, 0)
	lock, err := NewSeqLock(buf)
	require.NoError(t, err)

	// First attempt observes a write beginning mid-read; the second attempt
	// samples while that write is still open and fails too; the third sees a
	// quiescent header and succeeds.
	attempts := 0
	err = lock.ReadConsistent(0, func() error {
		attempts++
		if attempts == 1 {
			lock.BeginWrite()
			lock.EndWrite()
			lock.BeginWrite()
		} else if attempts == 2 {
			lock.EndWrite()
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestSeqLockRetriesExhausted(t *testing.T) {
	buf := make([]byte, HeaderSize+8)
	WriteHeaderUnchecked(buf, 0, 0)
	lock, err := NewSeqLock(buf)
	require.NoError(t, err)

	err = lock.ReadConsistent(3, func() error {
		// Every attempt races with a fresh write.
		lock.BeginWrite()
		lock.EndWrite()
		lock.BeginWrite()
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidHeader))
}

func TestSeqLockTornWriteForcesRetry(t *testing.T) {
	buf := make([]byte, HeaderSize+8)
	WriteHeaderUnchecked(buf, 0, 0)
	lock, err := NewSeqLock(buf)
	require.NoError(t, err)

	payload := buf[HeaderSize : HeaderSize+8]

	// Interleave a full write inside the first read attempt: the snapshot
	// mixes old and new bytes, and the retry observes the settled payload.
	for i := range payload {
		payload[i] = 0xAA
	}

	var snapshot [8]byte
	attempts := 0
	err = lock.ReadConsistent(0, func() error {
		attempts++
		copy(snapshot[:4], payload[:4])
		if attempts == 1 {
			lock.BeginWrite()
			for i := range payload {
				payload[i] = 0xBB
			}
			lock.EndWrite()
		}
		copy(snapshot[4:], payload[4:])
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
	for _, b := range snapshot {
		assert.Equal(t, byte(0xBB), b, "the retried read must observe an untorn payload")
	}
}
