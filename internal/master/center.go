// Package master implements the Command Center, the Signal Router, and
// the Control Transport: the singleton that owns every configured
// Service Aggregator, serializes client commands to them, reaps exited
// children, and drives an ordered whole-process shutdown.
package master

import (
	"context"
	"fmt"
	"log"
	"sync"

	"picomasterd/internal/service"
	"picomasterd/internal/wire"
)

// State is the Command Center's own master-level readiness, distinct
// from any individual service's state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
)

// ErrNotReady is returned for any per-service command issued before the
// Command Center has finished constructing every Service Aggregator.
var ErrNotReady = fmt.Errorf("master: not ready")

// UnknownServiceError names a service lookup miss.
type UnknownServiceError struct{ Name string }

func (e *UnknownServiceError) Error() string { return fmt.Sprintf("master: unknown service %q", e.Name) }

// Center is the singleton Command Center for one master process.
type Center struct {
	mu       sync.Mutex
	services map[string]*service.Aggregator
	order    []string
	state    State

	stopNotifier *service.Notifier
	outstanding  int
	doneOnce     sync.Once
	done         chan struct{}

	logger  *log.Logger
	signals chan Signal
}

// New constructs a Center in Starting state with no services yet.
func New(logger *log.Logger) *Center {
	return &Center{
		services: make(map[string]*service.Aggregator),
		logger:   logger,
		signals:  make(chan Signal, 8),
		done:     make(chan struct{}),
	}
}

// Done closes once the whole-master Stop sequence has resolved, letting
// the process entrypoint block until every service has reached Stopped
// or Failed without itself duplicating signal handling.
func (c *Center) Done() <-chan struct{} { return c.done }

// AddService registers an Aggregator. Only valid before MarkRunning.
func (c *Center) AddService(agg *service.Aggregator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := agg.Name()
	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = agg
}

// MarkRunning transitions Starting -> Running once every Aggregator has
// been constructed, per spec.md §3.
func (c *Center) MarkRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStarting {
		c.state = StateRunning
	}
}

func (c *Center) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return ErrNotReady
	}
	return nil
}

func (c *Center) lookup(name string) (*service.Aggregator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.services[name]
	if !ok {
		return nil, &UnknownServiceError{Name: name}
	}
	return agg, nil
}

// --- per-service routing, spec.md §4.3 --------------------------------

func (c *Center) StartService(name string) (*service.Notifier, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return agg.Start(wire.ReasonConsoleRequest)
}

func (c *Center) ReloadService(name string, graceful bool) (*service.Notifier, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return agg.Reload(graceful, wire.ReasonConsoleRequest)
}

func (c *Center) StopService(name string, graceful bool) (notifier *service.Notifier, already bool, err error) {
	if err = c.ready(); err != nil {
		return
	}
	agg, lerr := c.lookup(name)
	if lerr != nil {
		err = lerr
		return
	}
	return agg.Stop(graceful, wire.ReasonConsoleRequest)
}

func (c *Center) PauseService(name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return err
	}
	return agg.Pause()
}

func (c *Center) ResumeService(name string) error {
	if err := c.ready(); err != nil {
		return err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return err
	}
	return agg.Resume()
}

func (c *Center) StatusService(name string) (wire.ServiceStatusPayload, error) {
	if err := c.ready(); err != nil {
		return wire.ServiceStatusPayload{}, err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return wire.ServiceStatusPayload{}, err
	}
	return agg.Status(), nil
}

func (c *Center) ServicePids(name string) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	agg, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return agg.Pids(), nil
}

// ReloadAll is reserved: HUP is wired to it but the handler is
// intentionally a no-op, per spec.md §9's Open Question resolution.
func (c *Center) ReloadAll() {
	c.logger.Printf("master: reload-all requested but is reserved; no effect")
}

// Stop drives the whole-master ordered shutdown: every service receives
// Stop(graceful), a single stop_notifier is held, and it resolves once
// every service has reached Stopped or Failed.
func (c *Center) Stop(graceful bool) *service.Notifier {
	c.mu.Lock()
	if c.state == StateStopping {
		n := c.stopNotifier
		c.mu.Unlock()
		return n
	}
	c.state = StateStopping
	c.stopNotifier = service.NewNotifier()
	n := c.stopNotifier
	aggs := make([]*service.Aggregator, 0, len(c.order))
	for _, name := range c.order {
		aggs = append(aggs, c.services[name])
	}
	c.outstanding = len(aggs)
	c.mu.Unlock()

	if len(aggs) == 0 {
		n.Resolve(struct{}{})
		c.doneOnce.Do(func() { close(c.done) })
		return n
	}
	for _, agg := range aggs {
		go func(agg *service.Aggregator) {
			notifier, already, err := agg.Stop(graceful, wire.ReasonExit)
			if err == nil && !already && notifier != nil {
				_, _ = notifier.Wait(context.Background())
			}
			c.serviceStopped()
		}(agg)
	}
	return n
}

func (c *Center) serviceStopped() {
	c.mu.Lock()
	c.outstanding--
	done := c.outstanding <= 0
	n := c.stopNotifier
	c.mu.Unlock()
	if done && n != nil {
		n.Resolve(struct{}{})
		c.doneOnce.Do(func() { close(c.done) })
	}
}

// Services returns the registered service names in insertion order, for
// callers building a demo config or iterating at startup.
func (c *Center) Services() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
