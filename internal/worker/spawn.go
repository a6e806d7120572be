package worker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// spawnChild builds and starts the child process, wiring its stdin/stdout
// as the control pipe. OS-specific process-group and signal handling
// lives in signal_unix.go / signal_windows.go.
func (h *Handle) spawnChild() (pid int, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, cancel context.CancelFunc, err error) {
	if h.cfg.ExecutablePath == "" {
		err = fmt.Errorf("worker[%d]: no executable_path configured", h.idx)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd = exec.CommandContext(ctx, h.cfg.ExecutablePath, h.cfg.Args...)
	cmd.Dir = h.cfg.WorkingDir
	cmd.Env = h.cfg.Env
	applyProcessGroup(cmd)

	stdin, err = cmd.StdinPipe()
	if err != nil {
		cancel()
		return
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		cancel()
		return
	}
	cmd.Stderr = &stderrLogger{idx: h.idx, log: h.log}

	if err = cmd.Start(); err != nil {
		cancel()
		return
	}
	pid = cmd.Process.Pid
	return
}

type stderrLogger struct {
	idx int
	log interface{ Printf(string, ...any) }
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	if s.log != nil {
		s.log.Printf("worker[%d] stderr: %s", s.idx, p)
	}
	return len(p), nil
}
