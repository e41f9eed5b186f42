package batch

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/filelock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	registered []int
	flushes    int
	closes     int
	failOn     int
	invalid    int
	flushErr   error
}

func (s *recordingSink) Register(rec int) error {
	if s.failOn != 0 && rec == s.failOn {
		return errors.New("bad record")
	}
	if s.invalid != 0 && rec == s.invalid {
		return fmt.Errorf("%w: record %d", apperrors.ErrInvalidInput, rec)
	}
	s.registered = append(s.registered, rec)
	return nil
}

func (s *recordingSink) Flush() error {
	if s.flushErr != nil {
		return s.flushErr
	}
	s.flushes++
	return nil
}

func (s *recordingSink) Close() error {
	s.closes++
	return nil
}

type fakeLock struct {
	err   error
	calls int
}

func (l *fakeLock) Do(fn func() error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn()
}

func TestThresholdFlushesOnceAfterHundredAndOne(t *testing.T) {
	sink := &recordingSink{}
	lock := &fakeLock{}
	w := NewWriter[int](sink, lock, Options{})

	for i := range 100 {
		require.NoError(t, w.Add(i))
	}
	assert.Zero(t, sink.flushes)
	assert.Equal(t, 100, w.Pending())

	require.NoError(t, w.Add(100))
	assert.Equal(t, 1, sink.flushes)
	assert.Len(t, sink.registered, 101)
	assert.Zero(t, w.Pending())
}

func TestLockFailurePreservesQueue(t *testing.T) {
	sink := &recordingSink{}
	lock := &fakeLock{err: apperrors.Lock("acquiring", errors.New("busy"))}
	w := NewWriter[int](sink, lock, Options{Threshold: 2, MaxQueued: 10})

	require.NoError(t, w.Add(1))
	require.NoError(t, w.Add(2))
	err := w.Add(3)
	require.ErrorIs(t, err, apperrors.ErrLock)
	assert.Equal(t, 3, w.Pending())
	assert.Empty(t, sink.registered)

	lock.err = nil
	require.NoError(t, w.Flush())
	assert.Equal(t, []int{1, 2, 3}, sink.registered)
	assert.Zero(t, w.Pending())
}

func TestRegisterFailureKeepsRemainder(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	w := NewWriter[int](sink, &fakeLock{}, Options{Threshold: 10, MaxQueued: 20})
	for _, r := range []int{1, 2, 3} {
		require.NoError(t, w.Add(r))
	}

	require.Error(t, w.Flush())
	assert.Equal(t, []int{1}, sink.registered)
	assert.Equal(t, 2, w.Pending())
	assert.Zero(t, sink.flushes)

	sink.failOn = 0
	require.NoError(t, w.Flush())
	assert.Equal(t, []int{1, 2, 3}, sink.registered)
	assert.Equal(t, 1, sink.flushes)
}

func TestInvalidRecordIsDropped(t *testing.T) {
	sink := &recordingSink{invalid: 99}
	w := NewWriter[int](sink, &fakeLock{}, Options{Threshold: 3, MaxQueued: 10})
	for _, r := range []int{1, 99, 3} {
		require.NoError(t, w.Add(r))
	}
	require.NoError(t, w.Add(4), "threshold flush skips the invalid record")
	assert.Equal(t, []int{1, 3, 4}, sink.registered)
	assert.Equal(t, 1, sink.flushes)
	assert.Zero(t, w.Pending())

	require.NoError(t, w.Add(5))
	require.NoError(t, w.Close())
	assert.Equal(t, []int{1, 3, 4, 5}, sink.registered)
}

func TestSinkFlushRetriedAfterFailure(t *testing.T) {
	sink := &recordingSink{flushErr: errors.New("disk full")}
	w := NewWriter[int](sink, &fakeLock{}, Options{Threshold: 10, MaxQueued: 20})
	require.NoError(t, w.Add(1))

	require.Error(t, w.Flush())
	assert.Zero(t, w.Pending())

	sink.flushErr = nil
	require.NoError(t, w.Flush())
	assert.Equal(t, 1, sink.flushes)
}

func TestQueueFull(t *testing.T) {
	lock := &fakeLock{err: errors.New("busy")}
	w := NewWriter[int](&recordingSink{}, lock, Options{Threshold: 2, MaxQueued: 3})
	require.NoError(t, w.Add(1))
	require.NoError(t, w.Add(2))
	require.Error(t, w.Add(3))

	err := w.Add(4)
	require.ErrorIs(t, err, apperrors.ErrQueueFull)
	assert.Equal(t, 3, w.Pending())
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter[int](sink, &fakeLock{}, Options{})
	require.NoError(t, w.Add(7))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, []int{7}, sink.registered)

	assert.ErrorIs(t, w.Add(8), apperrors.ErrIllegalState)
	assert.ErrorIs(t, w.Flush(), apperrors.ErrIllegalState)
}

func TestCloseMarksClosedOnFailure(t *testing.T) {
	sink := &recordingSink{}
	lock := &fakeLock{err: errors.New("busy")}
	w := NewWriter[int](sink, lock, Options{})
	require.NoError(t, w.Add(1))

	err := w.Close()
	require.ErrorIs(t, err, ErrLost)
	assert.Contains(t, err.Error(), "1 records")
	assert.Zero(t, w.Pending())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, sink.closes)
}

func TestCloseCountsRegisteredButUnflushed(t *testing.T) {
	sink := &recordingSink{flushErr: errors.New("disk full")}
	w := NewWriter[int](sink, &fakeLock{}, Options{})
	require.NoError(t, w.Add(1))
	require.NoError(t, w.Add(2))

	err := w.Close()
	require.ErrorIs(t, err, ErrLost)
	assert.Contains(t, err.Error(), "2 records")
}

func TestFlushWithFileLock(t *testing.T) {
	lock, err := filelock.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { lock.Close() })

	sink := &recordingSink{}
	w := NewWriter[int](sink, lock, Options{})
	require.NoError(t, w.Add(1))
	require.NoError(t, w.Close())
	assert.Equal(t, []int{1}, sink.registered)
}

func TestCompletionHookClosesOnce(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter[int](sink, &fakeLock{}, Options{})
	h := NewCompletionHook(w)

	require.NoError(t, h.Finished(TaskEvent{Kind: TaskParse}))
	require.NoError(t, h.Finished(TaskEvent{Kind: TaskAnalyze}))
	assert.Zero(t, sink.closes)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			assert.NoError(t, h.Finished(TaskEvent{Kind: TaskGenerate, Unit: "Main.java"}))
		})
	}
	wg.Wait()
	assert.Equal(t, 1, sink.closes)
}
