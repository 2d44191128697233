package syncutils_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LaazAlae/expenseTracker-sub000/internal/utils/syncutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := syncutils.NewKeyedMutex()
	ctx := context.Background()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock(ctx, "user-a"))
			defer m.Unlock("user-a")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := syncutils.NewKeyedMutex()
	ctx := context.Background()

	require.NoError(t, m.Lock(ctx, "user-a"))
	defer m.Unlock("user-a")

	// Holding user-a must not delay user-b.
	done := make(chan struct{})
	go func() {
		require.NoError(t, m.Lock(ctx, "user-b"))
		m.Unlock("user-b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
}

func TestKeyedMutex_ContextCancellation(t *testing.T) {
	m := syncutils.NewKeyedMutex()
	require.NoError(t, m.Lock(context.Background(), "user-a"))
	defer m.Unlock("user-a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Lock(ctx, "user-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
