package master

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"picomasterd/internal/service"
	"picomasterd/internal/wire"
)

// heartbeatInterval is the server-driven unsolicited Pong cadence, per
// spec.md §4.4.
const heartbeatInterval = time.Second

// Transport is the Control Transport: it accepts connections on a UNIX
// socket, frames length-prefixed JSON requests/responses, and drives a
// per-connection heartbeat. Each connection is an independent session;
// ordering is preserved only within one session.
type Transport struct {
	path    string
	center  *Center
	logger  *log.Logger
	version string

	mu       sync.Mutex
	listener net.Listener
}

func NewTransport(path string, center *Center, logger *log.Logger, version string) *Transport {
	return &Transport{path: path, center: center, logger: logger, version: version}
}

// Serve accepts connections until ctx is done or the listener errors.
func (t *Transport) Serve(ctx context.Context) error {
	_ = os.Remove(t.path) // stale socket from an unclean previous exit
	ln, err := net.Listen("unix", t.path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go t.handleConn(ctx, conn)
	}
}

// Close removes the socket file; callers do this once the master has
// finished its ordered shutdown, per spec.md §5's "owned by the master,
// removed on Drop" rule.
func (t *Transport) Close() {
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	_ = os.Remove(t.path)
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	write := func(resp wire.MasterResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wire.WriteJSON(conn, resp)
	}

	go t.heartbeat(connCtx, write)

	for {
		var req wire.MasterRequest
		if err := wire.ReadJSON(conn, &req); err != nil {
			return // malformed frame or peer close: only this session ends
		}
		resp := t.dispatch(connCtx, req)
		if err := write(resp); err != nil {
			return
		}
		if req.Type == wire.ReqQuit {
			return
		}
	}
}

func (t *Transport) heartbeat(ctx context.Context, write func(wire.MasterResponse) error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := write(wire.MasterResponse{Type: wire.RespPong}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, req wire.MasterRequest) wire.MasterResponse {
	switch req.Type {
	case wire.ReqPing:
		return wire.MasterResponse{Type: wire.RespPong}
	case wire.ReqStart:
		return t.awaitStart(ctx, req.Name)
	case wire.ReqReload:
		return t.awaitReload(ctx, req.Name, true)
	case wire.ReqRestart:
		return t.awaitReload(ctx, req.Name, false)
	case wire.ReqStop:
		return t.awaitStop(ctx, req.Name)
	case wire.ReqPause:
		return simpleResponse(t.center.PauseService(req.Name))
	case wire.ReqResume:
		return simpleResponse(t.center.ResumeService(req.Name))
	case wire.ReqStatus:
		status, err := t.center.StatusService(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return wire.MasterResponse{Type: wire.RespServiceStatus, Status: &status}
	case wire.ReqServicePids:
		pids, err := t.center.ServicePids(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return wire.MasterResponse{Type: wire.RespServiceWorkerPids, Pids: pids}
	case wire.ReqPid:
		return wire.MasterResponse{Type: wire.RespPid, Pid: strconv.Itoa(os.Getpid())}
	case wire.ReqVersion:
		return wire.MasterResponse{Type: wire.RespVersion, Version: t.version}
	case wire.ReqQuit:
		t.center.Stop(true)
		return wire.MasterResponse{Type: wire.RespDone}
	default:
		return wire.MasterResponse{Type: wire.RespErrorUnknownService}
	}
}

func (t *Transport) awaitStart(ctx context.Context, name string) wire.MasterResponse {
	notifier, err := t.center.StartService(name)
	if err != nil {
		return errorResponse(err)
	}
	v, werr := notifier.Wait(ctx)
	if werr != nil {
		return wire.MasterResponse{Type: wire.RespDone}
	}
	switch v.(service.StartStatus) {
	case service.StartSuccess:
		return wire.MasterResponse{Type: wire.RespServiceStarted}
	case service.StartFailed:
		return wire.MasterResponse{Type: wire.RespServiceFailed}
	default: // StartPreempted
		return wire.MasterResponse{Type: wire.RespErrorServiceStopping}
	}
}

func (t *Transport) awaitReload(ctx context.Context, name string, graceful bool) wire.MasterResponse {
	notifier, err := t.center.ReloadService(name, graceful)
	if err != nil {
		return errorResponse(err)
	}
	v, werr := notifier.Wait(ctx)
	if werr != nil {
		return wire.MasterResponse{Type: wire.RespDone}
	}
	// A Reload of a Stopped or Failed service runs as a fresh Start, so
	// its notifier resolves to a StartStatus rather than a ReloadStatus.
	switch v {
	case service.ReloadSuccess, service.StartSuccess:
		return wire.MasterResponse{Type: wire.RespServiceStarted}
	case service.ReloadFailed, service.StartFailed:
		return wire.MasterResponse{Type: wire.RespServiceFailed}
	default: // ReloadPreempted or StartPreempted
		return wire.MasterResponse{Type: wire.RespErrorServiceStopping}
	}
}

// awaitStop implements the fixed typo from spec.md §9: a Stop that
// observes the target already stopped replies ServiceStopped, not
// ServiceStarted.
func (t *Transport) awaitStop(ctx context.Context, name string) wire.MasterResponse {
	notifier, already, err := t.center.StopService(name, true)
	if err != nil {
		return errorResponse(err)
	}
	if already {
		return wire.MasterResponse{Type: wire.RespServiceStopped}
	}
	if _, werr := notifier.Wait(ctx); werr != nil {
		return wire.MasterResponse{Type: wire.RespDone}
	}
	return wire.MasterResponse{Type: wire.RespServiceStopped}
}

func simpleResponse(err error) wire.MasterResponse {
	if err != nil {
		return errorResponse(err)
	}
	return wire.MasterResponse{Type: wire.RespDone}
}

func errorResponse(err error) wire.MasterResponse {
	switch e := err.(type) {
	case *UnknownServiceError:
		return wire.MasterResponse{Type: wire.RespErrorUnknownService}
	case *service.OpError:
		switch e.Kind {
		case service.ErrStateStarting:
			return wire.MasterResponse{Type: wire.RespErrorServiceStarting}
		case service.ErrStateReloading:
			return wire.MasterResponse{Type: wire.RespErrorServiceReloading}
		case service.ErrStateStopping:
			return wire.MasterResponse{Type: wire.RespErrorServiceStopping}
		case service.ErrStateRunning:
			return wire.MasterResponse{Type: wire.RespErrorServiceRunning}
		case service.ErrStateStopped:
			return wire.MasterResponse{Type: wire.RespErrorServiceStopped}
		case service.ErrStateFailed:
			return wire.MasterResponse{Type: wire.RespErrorServiceFailed}
		}
	}
	if err == ErrNotReady {
		return wire.MasterResponse{Type: wire.RespErrorNotReady}
	}
	return wire.MasterResponse{Type: wire.RespErrorNotReady}
}
