//go:build !windows

package service

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"picomasterd/internal/wire"
	"picomasterd/internal/worker"
)

// startReaping drains exited real children spawned by this test process
// and forwards them to agg, standing in for the master's reap loop
// (internal/master/reap_unix.go) which these package-local tests don't
// run.
func startReaping(t *testing.T, agg *Aggregator) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for {
					var ws unix.WaitStatus
					pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
					if err != nil || pid <= 0 {
						break
					}
					var exitErr error
					if ws.Exited() && ws.ExitStatus() != 0 {
						exitErr = errExitNonzero
					}
					agg.ProcessExited(pid, exitErr)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

var testLogger = log.New(io.Discard, "", 0)

type exitErr struct{}

func (*exitErr) Error() string { return "exit status 1" }

var errExitNonzero = &exitErr{}

// loadedScript emits a real length-prefixed Loaded notification: a worker
// script that emits this on its stdout then sleeps behaves exactly like
// a real worker process completing its ready handshake.
const loadedScript = `printf '\000\021{"type":"Loaded"}'; sleep 5`

func newTestAggregator(t *testing.T, num int, script string) (*Aggregator, context.CancelFunc) {
	spec := Spec{
		Name: "echo",
		Num:  num,
		Worker: worker.Config{
			ExecutablePath:    "/bin/sh",
			Args:              []string{"-c", script},
			StartupTimeout:    10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			HeartbeatGrace:    10 * time.Second,
			MaxRestarts:       2,
		},
	}
	agg := New(spec, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)
	t.Cleanup(cancel)
	return agg, cancel
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition never became true within %s", timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartAllOrNothingResolvesSuccessWhenEveryWorkerLoads(t *testing.T) {
	agg, _ := newTestAggregator(t, 2, loadedScript)

	notifier, err := agg.Start(wire.ReasonConsoleRequest)
	require.NoError(t, err)

	v, werr := notifier.Wait(context.Background())
	require.NoError(t, werr)
	assert.Equal(t, StartSuccess, v)
	assert.Equal(t, "running", agg.Status().Label)
}

func TestStartRejectedWhileRunning(t *testing.T) {
	agg, _ := newTestAggregator(t, 1, loadedScript)

	notifier, err := agg.Start(wire.ReasonConsoleRequest)
	require.NoError(t, err)
	_, werr := notifier.Wait(context.Background())
	require.NoError(t, werr)

	_, err = agg.Start(wire.ReasonConsoleRequest)
	require.Error(t, err)
	opErr, ok := err.(*OpError)
	require.True(t, ok)
	assert.Equal(t, ErrStateRunning, opErr.Kind)
}

func TestStopOnAlreadyStoppedReportsAlready(t *testing.T) {
	agg, _ := newTestAggregator(t, 1, loadedScript)

	_, already, err := agg.Stop(true, wire.ReasonConsoleRequest)
	require.NoError(t, err)
	assert.True(t, already, "a freshly constructed Aggregator starts Stopped")
}

func TestStopAfterRunningResolvesOnceEveryWorkerExits(t *testing.T) {
	agg, _ := newTestAggregator(t, 1, loadedScript)
	startReaping(t, agg)

	notifier, err := agg.Start(wire.ReasonConsoleRequest)
	require.NoError(t, err)
	_, werr := notifier.Wait(context.Background())
	require.NoError(t, werr)

	stopNotifier, already, err := agg.Stop(true, wire.ReasonConsoleRequest)
	require.NoError(t, err)
	require.False(t, already)

	v, werr := stopNotifier.Wait(context.Background())
	require.NoError(t, werr)
	assert.IsType(t, StopDone{}, v)
	waitForCondition(t, 2*time.Second, func() bool { return agg.Status().Label == "stopped" })
}

func TestAllOrNothingFailsWhenAWorkerNeverLoads(t *testing.T) {
	// The single worker never sends Loaded; the pool sits in Starting until the
	// process exits on its own budget-exhausting restarts simulated by
	// the reap-loop stand-in, ProcessExited.
	agg, _ := newTestAggregator(t, 1, "sleep 5")

	notifier, err := agg.Start(wire.ReasonConsoleRequest)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pid := agg.WorkerPID(0)
		require.NotZero(t, pid)
		agg.ProcessExited(pid, errExitNonzero)
		time.Sleep(20 * time.Millisecond)
	}

	v, werr := notifier.Wait(context.Background())
	require.NoError(t, werr)
	assert.Equal(t, StartFailed, v)
	assert.Equal(t, "failed", agg.Status().Label)
}
