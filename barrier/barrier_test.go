package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitDelay(t *testing.T) {
	b := New(50 * time.Millisecond)
	b.Arm()

	start := time.Now()
	require.NoError(t, b.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitRelease(t *testing.T) {
	b := New(time.Hour)
	b.Arm()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Release()
	}()

	done := make(chan error, 1)
	go func() {
		done <- b.Wait(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("barrier was not released")
	}

	// Releasing twice is fine.
	b.Release()
}

func TestWaitContext(t *testing.T) {
	b := New(time.Hour)
	b.Arm()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnarmedIsOpen(t *testing.T) {
	b := New(time.Hour)
	assert.NoError(t, b.Wait(context.Background()))
}

func TestRearm(t *testing.T) {
	b := New(time.Hour)
	b.Arm()
	b.Release()
	require.NoError(t, b.Wait(context.Background()))

	b.Arm()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Wait(ctx))
}

func TestDefaultDelay(t *testing.T) {
	assert.Equal(t, DefaultDelay, New(0).Delay())
	assert.Equal(t, 2*time.Second, New(2*time.Second).Delay())
}
