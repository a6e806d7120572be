// Package worker implements the Worker Handle: the per-child-process
// lifecycle state machine described for a single member of a service's
// worker pool. A Handle never starts its own goroutines to mutate
// state; callers (the owning service Aggregator) invoke its methods
// from a single cooperative loop, and timers/child I/O report back
// through a Post callback rather than touching state directly.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"

	"picomasterd/internal/wire"
)

// State is one position in the Worker Handle state machine.
type State int

const (
	StateInitial State = iota
	StateStarting
	StateRunning
	StateReloading
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const maxEvents = 16

// Config carries the enumerated configuration inputs spec.md §4.1 lists
// for a Worker Handle.
type Config struct {
	ExecutablePath     string
	Args               []string
	Env                []string
	WorkingDir         string
	StartupTimeout     time.Duration
	ShutdownTimeout    time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatGrace     time.Duration
	MaxRestarts        int
}

// TimerKind identifies which of a Handle's timers fired.
type TimerKind int

const (
	TimerStartup TimerKind = iota
	TimerShutdown
	TimerHeartbeat
)

// AsyncEvent is how a timer firing or a line read from a child's control
// pipe is reported back to the owning Aggregator's single loop. Nothing
// about a Handle's state is touched until the Aggregator replays this
// event through Handle.OnTimer / Handle.OnMessage / Handle.OnExit.
type AsyncEvent struct {
	WorkerIdx int
	Timer     *TimerKind
	Message   *wire.WorkerNotification
	sourcePID int
}

// SourcePID is the child PID an AsyncEvent's Message was read from.
func (e AsyncEvent) SourcePID() int { return e.sourcePID }

// Handle is a single child process's lifecycle record.
type Handle struct {
	idx int
	cfg Config
	log *log.Logger

	// post enqueues an AsyncEvent onto the owning Aggregator's event
	// channel; it is safe to call from any goroutine (timers, pipe
	// readers) and must never block indefinitely.
	post func(AsyncEvent)

	state        State
	pid          int
	oldPID       int // previous child, retained during a graceful Reload
	restartCount int
	events       []wire.WorkerEvent

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser

	startupTimer   *time.Timer
	shutdownTimer  *time.Timer
	heartbeatTimer *time.Timer

	resource *wire.ResourceSample
}

// New constructs a Handle at idx within its service. post is invoked
// (possibly from another goroutine) whenever a timer fires or the child
// reports something over its control pipe.
func New(idx int, cfg Config, logger *log.Logger, post func(AsyncEvent)) *Handle {
	return &Handle{
		idx:   idx,
		cfg:   cfg,
		log:   logger,
		post:  post,
		state: StateInitial,
	}
}

func (h *Handle) Idx() int       { return h.idx }
func (h *Handle) State() State   { return h.state }
func (h *Handle) PID() int       { return h.pid }

// OwnsPID reports whether pid belongs to this handle's current child or
// to the old child it is still draining during a graceful Reload.
func (h *Handle) OwnsPID(pid int) bool { return pid != 0 && (pid == h.pid || pid == h.oldPID) }

func (h *Handle) IsRunning() bool   { return h.state == StateRunning }
func (h *Handle) IsStopped() bool   { return h.state == StateStopped }
func (h *Handle) IsFailed() bool    { return h.state == StateFailed }
func (h *Handle) IsStarting() bool  { return h.state == StateStarting }
func (h *Handle) IsReloading() bool { return h.state == StateReloading }
func (h *Handle) IsStopping() bool  { return h.state == StateStopping }

// Terminal reports whether the handle is in Stopped or Failed, i.e. has
// no live child and no armed timers.
func (h *Handle) Terminal() bool { return h.state == StateStopped || h.state == StateFailed }

// SetResource records the latest sample from the resource sampler. Like
// every other method it is called from the owning loop (the Aggregator
// routes samples through its command channel), and it never drives a
// state transition.
func (h *Handle) SetResource(s wire.ResourceSample) { h.resource = &s }

// Status renders the worker's current label and event history for a
// ServiceStatus response.
func (h *Handle) Status() wire.WorkerStatus {
	evs := make([]wire.WorkerEvent, len(h.events))
	copy(evs, h.events)
	return wire.WorkerStatus{Label: h.state.String(), Events: evs, Resource: h.resource}
}

func (h *Handle) record(reason wire.Reason) {
	h.events = append(h.events, wire.WorkerEvent{Time: time.Now(), State: h.state.String(), Reason: reason})
	if len(h.events) > maxEvents {
		h.events = h.events[len(h.events)-maxEvents:]
	}
}

func (h *Handle) enter(s State, reason wire.Reason) {
	h.state = s
	h.record(reason)
}

// disarmAll cancels any timers left over from a previous state.
func (h *Handle) disarmAll() {
	h.disarm(&h.startupTimer)
	h.disarm(&h.shutdownTimer)
	h.disarm(&h.heartbeatTimer)
}

func (h *Handle) disarm(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// clearChild releases the context tied to the current child and zeroes
// pid bookkeeping. Called whenever a child is finally gone (reaped or
// forced-killed), never while it might still be running.
func (h *Handle) clearChild() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.pid = 0
	h.stdin = nil
}

func (h *Handle) arm(t **time.Timer, d time.Duration, kind TimerKind) {
	h.disarm(t)
	k := kind
	*t = time.AfterFunc(d, func() {
		h.post(AsyncEvent{WorkerIdx: h.idx, Timer: &k})
	})
}

// Start spawns a child and arms the startup timer. Valid from Initial,
// Stopped or Failed; the restart budget resets here.
func (h *Handle) Start(reason wire.Reason) error {
	h.restartCount = 0
	return h.spawnInto(StateStarting, reason)
}

func (h *Handle) spawnInto(target State, reason wire.Reason) error {
	if h.cancel != nil && h.oldPID == 0 {
		// Replacing a child that isn't being retained as an old
		// reload peer: release its context rather than leak it.
		h.cancel()
	}
	pid, cmd, stdin, stdout, cancel, err := h.spawnChild()
	if err != nil {
		h.enter(StateFailed, reason)
		return err
	}
	h.pid = pid
	h.cmd = cmd
	h.stdin = stdin
	h.cancel = cancel
	h.enter(target, reason)
	h.arm(&h.startupTimer, h.cfg.StartupTimeout, TimerStartup)
	go h.readChildPipe(pid, stdout)
	return nil
}

// readChildPipe decodes length-prefixed WorkerNotification frames from a
// child's stdout until it closes; each decoded frame is posted back to
// the owning Aggregator tagged with the pid it came from, so a stale
// reader from a since-replaced child is a safe no-op.
func (h *Handle) readChildPipe(pid int, stdout io.ReadCloser) {
	defer stdout.Close()
	for {
		var note wire.WorkerNotification
		if err := wire.ReadJSON(stdout, &note); err != nil {
			return
		}
		n := note
		h.post(AsyncEvent{WorkerIdx: h.idx, Message: &n, sourcePID: pid})
	}
}

// Reload starts a replacement child while the current one keeps serving;
// both are retained until the replacement reports Loaded. Valid only
// from Running.
func (h *Handle) Reload(reason wire.Reason) error {
	if h.state != StateRunning {
		return fmt.Errorf("worker[%d]: reload requires running, have %s", h.idx, h.state)
	}
	h.restartCount = 0
	h.oldPID = h.pid
	h.sendControl(wire.WorkerCmdPrepare)
	return h.spawnInto(StateReloading, reason)
}

// Stop requests a graceful shutdown (TERM, then KILL after
// ShutdownTimeout). Quit requests a forced shutdown (QUIT immediately).
func (h *Handle) Stop(reason wire.Reason) error  { return h.beginStop(false, reason) }
func (h *Handle) Quit(reason wire.Reason) error  { return h.beginStop(true, reason) }

func (h *Handle) beginStop(forced bool, reason wire.Reason) error {
	if h.pid == 0 {
		h.enter(StateStopped, reason)
		return nil
	}
	sig := SigTerm
	if forced {
		sig = SigQuit
	}
	h.enter(StateStopping, reason)
	_ = signalGroup(h.pid, sig)
	h.arm(&h.shutdownTimer, h.cfg.ShutdownTimeout, TimerShutdown)
	return nil
}

// Pause and Resume only send a control message; the Handle's state does
// not change (the Aggregator tracks the orthogonal paused flag).
func (h *Handle) Pause() error  { return h.sendControl(wire.WorkerCmdPause) }
func (h *Handle) Resume() error { return h.sendControl(wire.WorkerCmdResume) }

func (h *Handle) sendControl(t wire.WorkerCommandType) error {
	if h.stdin == nil {
		return nil
	}
	return wire.WriteJSON(h.stdin, wire.WorkerCommand{Type: t})
}

// OnTimer replays a fired timer against current state.
func (h *Handle) OnTimer(kind TimerKind) {
	switch kind {
	case TimerStartup:
		if h.state == StateStarting || h.state == StateReloading {
			h.onAttemptFailed(wire.ReasonStartupTimeout)
		}
	case TimerShutdown:
		if h.state == StateStopping {
			_ = signalGroup(h.pid, SigKill)
			h.enter(StateStopped, wire.ReasonShutdownTimeout)
			h.clearChild()
			h.disarmAll()
		}
	case TimerHeartbeat:
		if h.state == StateRunning {
			_ = signalGroup(h.pid, SigTerm)
			h.spawnInto(StateStarting, wire.ReasonHeartbeatFailure)
		}
	}
}

// OnMessage replays a control-pipe notification from the child
// currently at pid.
func (h *Handle) OnMessage(pid int, msg wire.WorkerNotification) {
	if pid != h.pid {
		return
	}
	switch msg.Type {
	case wire.WorkerNoteLoaded:
		h.onLoaded()
	case wire.WorkerNoteHeartbeat:
		if h.state == StateRunning {
			h.arm(&h.heartbeatTimer, h.cfg.HeartbeatInterval+h.cfg.HeartbeatGrace, TimerHeartbeat)
		}
	case wire.WorkerNoteFailed:
		h.onAttemptFailed(wire.ReasonNone)
	}
}

func (h *Handle) onLoaded() {
	switch h.state {
	case StateStarting:
		h.disarm(&h.startupTimer)
		h.enter(StateRunning, wire.ReasonNone)
		h.arm(&h.heartbeatTimer, h.cfg.HeartbeatInterval+h.cfg.HeartbeatGrace, TimerHeartbeat)
	case StateReloading:
		h.disarm(&h.startupTimer)
		if h.oldPID != 0 {
			_ = signalGroup(h.oldPID, SigTerm)
			h.oldPID = 0
		}
		h.enter(StateRunning, wire.ReasonNone)
		h.arm(&h.heartbeatTimer, h.cfg.HeartbeatInterval+h.cfg.HeartbeatGrace, TimerHeartbeat)
	}
}

// onAttemptFailed applies the shared Starting/Reloading restart-budget
// policy: respawn while budget remains, else Failed.
func (h *Handle) onAttemptFailed(reason wire.Reason) {
	if h.pid != 0 {
		_ = signalGroup(h.pid, SigKill)
	}
	if h.restartCount < h.cfg.MaxRestarts {
		h.restartCount++
		target := StateStarting
		if h.state == StateReloading {
			target = StateReloading
		}
		if err := h.spawnInto(target, reason); err != nil {
			h.enter(StateFailed, reason)
		}
		return
	}
	h.clearChild()
	h.disarmAll()
	h.enter(StateFailed, reason)
}

// OnExit replays a reap of pid with its exit error (nil on success).
func (h *Handle) OnExit(pid int, exitErr error) {
	switch {
	case pid == h.oldPID:
		h.oldPID = 0
		return
	case pid != h.pid:
		return
	}
	switch h.state {
	case StateStopping:
		h.clearChild()
		h.disarmAll()
		h.enter(StateStopped, wire.ReasonExit)
	case StateStarting, StateReloading:
		h.onAttemptFailed(wire.ReasonExit)
	case StateRunning:
		h.onAttemptFailed(wire.ReasonExit)
	}
}
