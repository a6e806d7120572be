//go:build linux

package cgroup

import "testing"

// These tests only assert the package's behavior on a real cgroup v2
// system; where cgroupfs isn't writable (containers without
// delegation, CI sandboxes) New's own error is exactly what a caller
// is expected to handle by falling back to sampler-only enforcement,
// so that path is what's exercised when the real one isn't available.
func TestNewEitherSucceedsOrReturnsAnError(t *testing.T) {
	g, err := New("picomasterd-test")
	if err != nil {
		t.Skipf("cgroup v2 not writable in this environment: %v", err)
	}
	defer g.Destroy()

	if err := g.SetMemoryLimit(0); err != nil {
		t.Fatalf("a zero limit must be a no-op, got: %v", err)
	}
	if err := g.SetCPUQuota(0); err != nil {
		t.Fatalf("a zero quota must be a no-op, got: %v", err)
	}
	if err := g.AddProcess(0); err != nil {
		t.Fatalf("a zero pid must be a no-op, got: %v", err)
	}
}
