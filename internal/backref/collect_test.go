package backref

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/batch"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/resilience"
)

// flakyLock fails the first n acquisitions with ErrLock.
type flakyLock struct{ n int }

func (l *flakyLock) Do(fn func() error) error {
	if l.n > 0 {
		l.n--
		return apperrors.Lock("acquiring", errors.New("held by another process"))
	}
	return fn()
}

const input = `{"file":"A.java","defs":[{"name":"Foo","kind":"class"}]}

{"file":"B.java","refs":[{"name":"Foo","kind":"class"}]}
{"file":"C.java","refs":[{"name":"Foo","kind":"class"}]}
`

func TestCollectRetriesLockFailures(t *testing.T) {
	dir := t.TempDir()
	bw := batch.NewWriter[FileData](NewWriter(dir), &flakyLock{n: 2}, batch.Options{Threshold: 2, MaxQueued: 10})

	n, err := Collect(context.Background(), strings.NewReader(input), bw,
		resilience.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, bw.Close())

	idx := openIndex(t, dir)
	hits, err := idx.Search(fooClass)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestCollectRejectsMalformedLine(t *testing.T) {
	bw := batch.NewWriter[FileData](NewWriter(t.TempDir()), &flakyLock{}, batch.Options{})
	_, err := Collect(context.Background(), strings.NewReader("{\"file\":\"A\"}\nnot json\n"), bw, resilience.RetryConfig{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
