package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{ temporary bool }

func (e tempErr) Error() string   { return "status error" }
func (e tempErr) Temporary() bool { return e.temporary }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(3)
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errors.New("connection reset"), 1))
	assert.False(t, p.ShouldRetry(errors.New("connection reset"), 3))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.True(t, p.ShouldRetry(tempErr{temporary: true}, 1))
	assert.False(t, p.ShouldRetry(tempErr{temporary: false}, 1))
}

func TestBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := New(5).WithDelays(10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	p := New(3).WithDelays(time.Millisecond, 2*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	p := New(5).WithDelays(time.Millisecond, 2*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return tempErr{temporary: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
