//go:build !windows

package master

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picomasterd/internal/service"
	"picomasterd/internal/worker"
)

var testLogger = log.New(io.Discard, "", 0)

func newRunningCenter(t *testing.T, names ...string) *Center {
	c := New(testLogger)
	for _, name := range names {
		spec := service.Spec{
			Name: name,
			Num:  1,
			Worker: worker.Config{
				ExecutablePath:  "/bin/sh",
				Args:            []string{"-c", "sleep 5"},
				StartupTimeout:  10 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxRestarts:     2,
			},
		}
		agg := service.New(spec, testLogger)
		c.AddService(agg)
		ctx, cancel := context.WithCancel(context.Background())
		go agg.Run(ctx)
		t.Cleanup(cancel)
	}
	c.MarkRunning()
	return c
}

func TestCenterRejectsCommandsBeforeMarkRunning(t *testing.T) {
	c := New(testLogger)
	_, err := c.StartService("web")
	assert.Equal(t, ErrNotReady, err)
}

func TestCenterRejectsUnknownService(t *testing.T) {
	c := newRunningCenter(t, "web")
	_, err := c.StartService("missing")
	require.Error(t, err)
	_, ok := err.(*UnknownServiceError)
	assert.True(t, ok)
}

func TestStopServiceReportsAlreadyForAFreshService(t *testing.T) {
	c := newRunningCenter(t, "web")
	_, already, err := c.StopService("web", true)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestCenterStopResolvesAfterEveryServiceStops(t *testing.T) {
	c := newRunningCenter(t, "web", "worker")
	for _, name := range c.Services() {
		_, err := c.StartService(name)
		require.NoError(t, err)
	}

	reapCtx, stopReaping := context.WithCancel(context.Background())
	defer stopReaping()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.reapAll()
			case <-reapCtx.Done():
				return
			}
		}
	}()

	notifier := c.Stop(true)
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelWait()
	_, err := notifier.Wait(waitCtx)
	require.NoError(t, err)

	for _, name := range c.Services() {
		// The Center no longer routes per-service commands once it is
		// Stopping, so the final label is read from the Aggregator itself.
		_, serr := c.StatusService(name)
		assert.Equal(t, ErrNotReady, serr)
		assert.Equal(t, "stopped", c.services[name].Status().Label)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed once Stop resolves")
	}
}
