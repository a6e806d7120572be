//go:build !windows

// Grounded in the non-blocking wait4 loop of canonical-pebble's
// internal/overlord/servstate reaper and kornnellio-gosv's
// supervisor.reapZombies: drain every exited child with WNOHANG until
// none remain, rather than reaping one per SIGCHLD delivery (signals can
// coalesce; exits must not be lost).
package master

import "golang.org/x/sys/unix"

// reapAll is the Command Center's SIGCHLD handler: a non-blocking loop
// reaping every exited child currently available.
func (c *Center) reapAll() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return // ECHILD (no children) or any other terminal error
		}
		if pid <= 0 {
			return
		}
		c.broadcastExit(pid, exitError(ws))
	}
}

func exitError(ws unix.WaitStatus) error {
	switch {
	case ws.Exited():
		if code := ws.ExitStatus(); code != 0 {
			return &ExitCodeError{Code: code}
		}
		return nil
	case ws.Signaled():
		return &ExitSignalError{Signal: int(ws.Signal())}
	default:
		return nil
	}
}
