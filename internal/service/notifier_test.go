package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierResolveOnceDeliversToAllWaiters(t *testing.T) {
	n := NewNotifier()
	results := make(chan any, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, err := n.Wait(context.Background())
			require.NoError(t, err)
			results <- v
		}()
	}
	time.Sleep(10 * time.Millisecond)
	n.Resolve(StartSuccess)
	n.Resolve(StartFailed) // second Resolve must be ignored

	for i := 0; i < 2; i++ {
		select {
		case v := <-results:
			assert.Equal(t, StartSuccess, v)
		case <-time.After(time.Second):
			t.Fatal("waiter never observed the resolved value")
		}
	}
}

func TestNotifierWaitRespectsContextCancellation(t *testing.T) {
	n := NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Wait(ctx)
	assert.Error(t, err)
}
