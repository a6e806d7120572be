// Package service implements the Service Aggregator: the per-service
// state machine that lifts a fixed pool of Worker Handles into
// Starting/Running/Reloading/Stopping/Stopped/Failed under the
// all-or-nothing commit rule spec.md §4.2 describes for Start and
// Reload. Every mutation happens on the single goroutine started by
// Run; all public methods hand a command to that goroutine and wait
// only for its synchronous routing decision, never for the structural
// operation itself to finish.
package service

import (
	"context"
	"log"
	"strconv"
	"time"

	"picomasterd/internal/wire"
	"picomasterd/internal/worker"
)

// failureCoalesceDelay is the fixed window a ProcessFailed notification
// is held before being applied, per spec.md §4.2.
const failureCoalesceDelay = 5 * time.Second

// Spec is the resolved, per-service configuration an Aggregator is
// built from.
type Spec struct {
	Name string
	Num  int
	Worker worker.Config
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdReload
	cmdStop
	cmdPause
	cmdResume
	cmdPids
	cmdStatus
	cmdProcessExited
	cmdAsync
	cmdDeferredFailed
	cmdWorkerPID
	cmdSetResource
	cmdKillWorker
)

type reply struct {
	notifier  *Notifier
	err       *OpError
	already   bool // Stop observed the service already terminal
	pids      []string
	status    wire.ServiceStatusPayload
	workerPID int
}

type cmd struct {
	kind     cmdKind
	reason   wire.Reason
	graceful bool
	pid      int
	exitErr  error
	async    *worker.AsyncEvent
	idx      int
	sample   wire.ResourceSample
	replyCh  chan reply
}

type deferKey struct {
	idx int
	pid int
}

// Aggregator is one configured service's runtime state.
type Aggregator struct {
	spec    Spec
	workers []*worker.Handle
	logger  *log.Logger

	state    State
	paused   bool
	notifier *Notifier

	deferred map[deferKey]*time.Timer

	cmds chan cmd
}

// New constructs an Aggregator and its fixed worker pool. Call Run in
// its own goroutine before issuing any commands.
func New(spec Spec, logger *log.Logger) *Aggregator {
	a := &Aggregator{
		spec:     spec,
		logger:   logger,
		state:    StateStopped,
		deferred: make(map[deferKey]*time.Timer),
		cmds:     make(chan cmd),
	}
	a.workers = make([]*worker.Handle, spec.Num)
	for i := range a.workers {
		a.workers[i] = worker.New(i, spec.Worker, logger, a.postAsync)
	}
	return a
}

func (a *Aggregator) postAsync(e worker.AsyncEvent) {
	a.cmds <- cmd{kind: cmdAsync, async: &e}
}

// Run drains commands on the calling goroutine until ctx is done. This
// IS the Aggregator's single cooperative event loop.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case c := <-a.cmds:
			a.handle(c)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Aggregator) Name() string { return a.spec.Name }

// --- public commands -------------------------------------------------

func (a *Aggregator) Start(reason wire.Reason) (*Notifier, error) {
	r := a.send(cmd{kind: cmdStart, reason: reason})
	return r.notifier, asErr(r.err)
}

func (a *Aggregator) Reload(graceful bool, reason wire.Reason) (*Notifier, error) {
	r := a.send(cmd{kind: cmdReload, graceful: graceful, reason: reason})
	return r.notifier, asErr(r.err)
}

// Stop returns (notifier, alreadyStopped, err). alreadyStopped is the
// fixed "Stop on an already-terminal service" path: the Command Center
// replies ServiceStopped immediately rather than waiting on a notifier.
func (a *Aggregator) Stop(graceful bool, reason wire.Reason) (*Notifier, bool, error) {
	r := a.send(cmd{kind: cmdStop, graceful: graceful, reason: reason})
	return r.notifier, r.already, asErr(r.err)
}

func (a *Aggregator) Pause() error {
	r := a.send(cmd{kind: cmdPause})
	return asErr(r.err)
}

func (a *Aggregator) Resume() error {
	r := a.send(cmd{kind: cmdResume})
	return asErr(r.err)
}

func (a *Aggregator) Pids() []string {
	return a.send(cmd{kind: cmdPids}).pids
}

func (a *Aggregator) Status() wire.ServiceStatusPayload {
	return a.send(cmd{kind: cmdStatus}).status
}

// WorkerPID returns the live PID of worker idx, or 0 if it has none.
// Used by the resource sampler, which lives outside this package and
// must never read Handle state directly.
func (a *Aggregator) WorkerPID(idx int) int {
	return a.send(cmd{kind: cmdWorkerPID, idx: idx}).workerPID
}

// SetWorkerResource records a sampled resource reading for worker idx.
func (a *Aggregator) SetWorkerResource(idx int, sample wire.ResourceSample) {
	a.cmds <- cmd{kind: cmdSetResource, idx: idx, sample: sample}
}

// KillWorker forces worker idx through its existing Quit transition
// (QUIT escalating to KILL on its own shutdown timeout), driven by the
// resource sampler when a hard limit is exceeded. Routed through the
// normal Worker Handle state machine rather than signaling the process
// directly, so the usual shutdown bookkeeping still applies; the worker
// ends in Stopped and is not respawned.
func (a *Aggregator) KillWorker(idx int) {
	a.cmds <- cmd{kind: cmdKillWorker, idx: idx}
}

// ProcessExited is broadcast by the Command Center to every Aggregator
// on each reap; unknown PIDs are ignored.
func (a *Aggregator) ProcessExited(pid int, exitErr error) {
	a.cmds <- cmd{kind: cmdProcessExited, pid: pid, exitErr: exitErr}
}

func asErr(e *OpError) error {
	if e == nil {
		return nil
	}
	return e
}

func (a *Aggregator) send(c cmd) reply {
	c.replyCh = make(chan reply, 1)
	a.cmds <- c
	return <-c.replyCh
}

// --- single-goroutine dispatch ---------------------------------------

func (a *Aggregator) handle(c cmd) {
	switch c.kind {
	case cmdStart:
		c.replyCh <- a.beginStart(c.reason)
	case cmdReload:
		c.replyCh <- a.beginReload(c.graceful, c.reason)
	case cmdStop:
		c.replyCh <- a.beginStop(c.graceful, c.reason)
	case cmdPause:
		c.replyCh <- a.beginPause()
	case cmdResume:
		c.replyCh <- a.beginResume()
	case cmdPids:
		c.replyCh <- reply{pids: a.pids()}
	case cmdStatus:
		c.replyCh <- reply{status: a.status()}
	case cmdProcessExited:
		a.onProcessExited(c.pid, c.exitErr)
	case cmdAsync:
		a.onAsync(*c.async)
	case cmdDeferredFailed:
		a.applyDeferredFailed(c.idx, c.pid)
	case cmdWorkerPID:
		pid := 0
		if c.idx >= 0 && c.idx < len(a.workers) {
			pid = a.workers[c.idx].PID()
		}
		c.replyCh <- reply{workerPID: pid}
	case cmdSetResource:
		if c.idx >= 0 && c.idx < len(a.workers) {
			a.workers[c.idx].SetResource(c.sample)
		}
	case cmdKillWorker:
		if c.idx >= 0 && c.idx < len(a.workers) {
			_ = a.workers[c.idx].Quit(wire.ReasonResourceLimit)
		}
	}
}

// --- Start / Reload ---------------------------------------------------

func (a *Aggregator) beginStart(reason wire.Reason) reply {
	switch a.state {
	case StateStarting:
		return reply{notifier: a.notifier}
	case StateReloading:
		return reply{err: &OpError{Kind: ErrStateReloading}}
	case StateStopping:
		return reply{err: &OpError{Kind: ErrStateStopping}}
	case StateRunning:
		return reply{err: &OpError{Kind: ErrStateRunning}}
	case StateStopped, StateFailed:
		a.notifier = NewNotifier()
		a.state = StateStarting
		a.paused = false
		for _, w := range a.workers {
			_ = w.Start(reason)
		}
		a.reevaluateOperation()
		return reply{notifier: a.notifier}
	}
	return reply{}
}

func (a *Aggregator) beginReload(graceful bool, reason wire.Reason) reply {
	switch a.state {
	case StateStarting:
		return reply{err: &OpError{Kind: ErrStateStarting}}
	case StateReloading:
		return reply{notifier: a.notifier}
	case StateStopping:
		return reply{err: &OpError{Kind: ErrStateStopping}}
	case StateRunning:
		a.notifier = NewNotifier()
		a.state = StateReloading
		for _, w := range a.workers {
			if err := w.Reload(reason); err != nil {
				_ = w.Start(reason)
			}
		}
		a.reevaluateOperation()
		return reply{notifier: a.notifier}
	case StateStopped, StateFailed:
		// Nothing to reload: identical to a fresh Start.
		a.notifier = NewNotifier()
		a.state = StateStarting
		a.paused = false
		for _, w := range a.workers {
			_ = w.Start(reason)
		}
		a.reevaluateOperation()
		return reply{notifier: a.notifier}
	}
	return reply{}
}

// reevaluateOperation applies the all-or-nothing commit rule. Called
// after Start/Reload begins and after every worker-level transition
// while an operation is in flight.
func (a *Aggregator) reevaluateOperation() {
	if a.state != StateStarting && a.state != StateReloading {
		return
	}
	inProcess := false
	failed := false
	for _, w := range a.workers {
		if !w.IsRunning() && !w.Terminal() {
			inProcess = true
		}
		if w.IsFailed() {
			failed = true
		}
	}
	switch {
	case !inProcess && !failed:
		a.resolveSuccess()
		a.state = StateRunning
	case failed && inProcess:
		for _, w := range a.workers {
			if !w.Terminal() {
				_ = w.Stop(wire.ReasonSomeWorkersFailed)
			}
		}
	case failed && !inProcess:
		a.resolveFailure()
		a.state = StateFailed
	}
}

func (a *Aggregator) resolveSuccess() {
	if a.notifier == nil {
		return
	}
	if a.state == StateReloading {
		a.notifier.Resolve(ReloadSuccess)
	} else {
		a.notifier.Resolve(StartSuccess)
	}
	a.notifier = nil
}

func (a *Aggregator) resolveFailure() {
	if a.notifier == nil {
		return
	}
	if a.state == StateReloading {
		a.notifier.Resolve(ReloadFailed)
	} else {
		a.notifier.Resolve(StartFailed)
	}
	a.notifier = nil
}

// --- Stop --------------------------------------------------------------

func (a *Aggregator) beginStop(graceful bool, reason wire.Reason) reply {
	switch a.state {
	case StateStopped, StateFailed:
		return reply{already: true}
	case StateStopping:
		return reply{notifier: a.notifier}
	case StateStarting, StateReloading:
		// Preempt: resolve the existing notifier with the Stopping
		// sentinel and drain.
		if a.notifier != nil {
			if a.state == StateReloading {
				a.notifier.Resolve(ReloadPreempted)
			} else {
				a.notifier.Resolve(StartPreempted)
			}
		}
		a.notifier = NewNotifier()
		a.state = StateStopping
		for _, w := range a.workers {
			if !w.Terminal() {
				if graceful {
					_ = w.Stop(reason)
				} else {
					_ = w.Quit(reason)
				}
			}
		}
		a.reevaluateStop()
		return reply{notifier: a.notifier}
	case StateRunning:
		a.notifier = NewNotifier()
		a.state = StateStopping
		a.paused = false
		for _, w := range a.workers {
			if graceful {
				_ = w.Stop(reason)
			} else {
				_ = w.Quit(reason)
			}
		}
		a.reevaluateStop()
		return reply{notifier: a.notifier}
	}
	return reply{}
}

func (a *Aggregator) reevaluateStop() {
	if a.state != StateStopping {
		return
	}
	for _, w := range a.workers {
		if !w.Terminal() {
			return
		}
	}
	a.state = StateStopped
	if a.notifier != nil {
		a.notifier.Resolve(StopDone{})
		a.notifier = nil
	}
}

// --- Pause / Resume ------------------------------------------------------

func (a *Aggregator) beginPause() reply {
	switch a.state {
	case StateStarting:
		return reply{err: &OpError{Kind: ErrStateStarting}}
	case StateReloading:
		return reply{err: &OpError{Kind: ErrStateReloading}}
	case StateStopping:
		return reply{err: &OpError{Kind: ErrStateStopping}}
	case StateStopped:
		return reply{err: &OpError{Kind: ErrStateStopped}}
	case StateFailed:
		return reply{err: &OpError{Kind: ErrStateFailed}}
	case StateRunning:
		a.paused = true
		for _, w := range a.workers {
			_ = w.Pause()
		}
		return reply{}
	}
	return reply{}
}

func (a *Aggregator) beginResume() reply {
	switch a.state {
	case StateStarting:
		return reply{err: &OpError{Kind: ErrStateStarting}}
	case StateReloading:
		return reply{err: &OpError{Kind: ErrStateReloading}}
	case StateStopping:
		return reply{err: &OpError{Kind: ErrStateStopping}}
	case StateStopped:
		return reply{err: &OpError{Kind: ErrStateStopped}}
	case StateFailed:
		return reply{err: &OpError{Kind: ErrStateFailed}}
	case StateRunning:
		a.paused = false
		for _, w := range a.workers {
			_ = w.Resume()
		}
		return reply{}
	}
	return reply{}
}

// --- Queries -------------------------------------------------------------

func (a *Aggregator) pids() []string {
	var out []string
	for _, w := range a.workers {
		if p := w.PID(); p != 0 {
			out = append(out, strconv.Itoa(p))
		}
	}
	return out
}

func (a *Aggregator) status() wire.ServiceStatusPayload {
	workers := make([]wire.WorkerStatus, len(a.workers))
	for i, w := range a.workers {
		workers[i] = w.Status()
	}
	return wire.ServiceStatusPayload{Label: a.state.Label(a.paused), Workers: workers}
}

// --- Async events from workers and the reap loop --------------------------

func (a *Aggregator) onProcessExited(pid int, exitErr error) {
	for _, w := range a.workers {
		if w.OwnsPID(pid) {
			w.OnExit(pid, exitErr)
			break
		}
	}
	a.reevaluateOperation()
	a.reevaluateStop()
}

func (a *Aggregator) onAsync(e worker.AsyncEvent) {
	if e.WorkerIdx < 0 || e.WorkerIdx >= len(a.workers) {
		return
	}
	w := a.workers[e.WorkerIdx]
	switch {
	case e.Timer != nil:
		w.OnTimer(*e.Timer)
	case e.Message != nil:
		if e.Message.Type == wire.WorkerNoteFailed {
			a.deferFailure(e.WorkerIdx, e.SourcePID())
			return
		}
		w.OnMessage(e.SourcePID(), *e.Message)
	}
	a.reevaluateOperation()
	a.reevaluateStop()
}

// deferFailure coalesces a ProcessFailed notification for
// failureCoalesceDelay before it is applied, per spec.md §4.2.
func (a *Aggregator) deferFailure(idx, pid int) {
	key := deferKey{idx: idx, pid: pid}
	if _, exists := a.deferred[key]; exists {
		return
	}
	a.deferred[key] = time.AfterFunc(failureCoalesceDelay, func() {
		a.cmds <- cmd{kind: cmdDeferredFailed, idx: idx, pid: pid}
	})
}

func (a *Aggregator) applyDeferredFailed(idx, pid int) {
	delete(a.deferred, deferKey{idx: idx, pid: pid})
	if idx < 0 || idx >= len(a.workers) {
		return
	}
	w := a.workers[idx]
	if w.PID() != pid {
		return // worker moved on since the delay was scheduled
	}
	w.OnMessage(pid, wire.WorkerNotification{Type: wire.WorkerNoteFailed})
	a.reevaluateOperation()
	a.reevaluateStop()
}
