package master

import (
	"fmt"
	"net"
)

// SentinelAddr is the fixed loopback address a master binds to prove
// process-uniqueness, per spec.md §6.
const SentinelAddr = "127.0.0.1:57897"

// BindSentinel attempts to bind SentinelAddr. Success means no other
// master is running; the caller is expected to hold the returned
// listener open for the process lifetime (never Close it) rather than
// unlink it on shutdown, matching the "intentionally leaked" rule in
// spec.md §5. Failure to bind means another master already owns the
// sentinel and startup must abort.
func BindSentinel() (net.Listener, error) {
	ln, err := net.Listen("tcp", SentinelAddr)
	if err != nil {
		return nil, fmt.Errorf("master: another instance is already running (%s): %w", SentinelAddr, err)
	}
	return ln, nil
}
