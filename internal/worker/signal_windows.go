//go:build windows

package worker

import (
	"os"
	"os/exec"
)

// Sig is the small set of signals the Worker Handle state machine sends
// to a child. Windows has no process groups or POSIX signals; Stop/Quit
// degrade to process termination.
type Sig int

const (
	SigTerm Sig = iota
	SigQuit
	SigKill
)

func applyProcessGroup(cmd *exec.Cmd) {}

func signalGroup(pid int, sig Sig) error {
	// os.FindProcess + Kill is the only portable option without a
	// console-control-event helper; forced and graceful collapse to
	// the same outcome on this platform.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
