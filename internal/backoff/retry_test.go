package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydpiper-go/pydpiperd/internal/backoff"
)

func TestExponentialBackoffPolicyDoublesUpToMaxInterval(t *testing.T) {
	p := &backoff.ExponentialBackoffPolicy{
		InitialInterval: 100 * time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     time.Second,
	}

	got, err := p.ComputeNextInterval(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, got)

	got, err = p.ComputeNextInterval(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, got)

	got, err = p.ComputeNextInterval(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, got)

	got, err = p.ComputeNextInterval(10, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, got, "interval must be capped at MaxInterval")
}

func TestExponentialBackoffPolicyExhaustsRetries(t *testing.T) {
	p := &backoff.ExponentialBackoffPolicy{
		InitialInterval: time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     time.Second,
		MaxRetries:      3,
	}

	for i := 0; i < 3; i++ {
		_, err := p.ComputeNextInterval(i, 0)
		require.NoError(t, err)
	}
	_, err := p.ComputeNextInterval(3, 0)
	assert.ErrorIs(t, err, backoff.ErrRetriesExhausted)
}

func TestFullJitterStaysWithinBounds(t *testing.T) {
	const interval = 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		got := backoff.FullJitter(interval)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.Less(t, got, interval)
	}
}

func TestFullJitterOfNonPositiveIntervalIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), backoff.FullJitter(0))
	assert.Equal(t, time.Duration(0), backoff.FullJitter(-time.Second))
}

func TestWithJitterAppliesJitterFunc(t *testing.T) {
	base := &backoff.ExponentialBackoffPolicy{
		InitialInterval: 10 * time.Millisecond,
		BackoffFactor:   1,
		MaxInterval:     time.Second,
	}
	halved := backoff.WithJitter(base, func(d time.Duration) time.Duration { return d / 2 })

	got, err := halved.ComputeNextInterval(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, got)
}

func TestRetrierResetClearsAttemptCount(t *testing.T) {
	policy := &backoff.ExponentialBackoffPolicy{
		InitialInterval: time.Millisecond,
		BackoffFactor:   1,
		MaxInterval:     time.Millisecond,
		MaxRetries:      1,
	}
	r := backoff.NewRetrier(policy)

	require.NoError(t, r.Next(context.Background(), nil))
	assert.ErrorIs(t, r.Next(context.Background(), nil), backoff.ErrRetriesExhausted)

	r.Reset()
	assert.NoError(t, r.Next(context.Background(), nil))
}

func TestRetrierNextRespectsContextCancellation(t *testing.T) {
	policy := &backoff.ExponentialBackoffPolicy{
		InitialInterval: time.Hour,
		BackoffFactor:   1,
		MaxInterval:     time.Hour,
	}
	r := backoff.NewRetrier(policy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Next(ctx, nil), backoff.ErrOperationCanceled)
}
