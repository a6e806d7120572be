package master

import (
	"fmt"

	"picomasterd/internal/service"
)

// ExitCodeError reports a child that exited normally with a non-zero
// code.
type ExitCodeError struct{ Code int }

func (e *ExitCodeError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// ExitSignalError reports a child terminated by a signal.
type ExitSignalError struct{ Signal int }

func (e *ExitSignalError) Error() string { return fmt.Sprintf("terminated by signal %d", e.Signal) }

// broadcastExit fans ProcessExited out to every registered Aggregator;
// each locates its own matching Worker Handle by PID and ignores misses.
func (c *Center) broadcastExit(pid int, exitErr error) {
	c.mu.Lock()
	aggs := make([]*service.Aggregator, 0, len(c.order))
	for _, name := range c.order {
		aggs = append(aggs, c.services[name])
	}
	c.mu.Unlock()
	for _, agg := range aggs {
		agg.ProcessExited(pid, exitErr)
	}
}
