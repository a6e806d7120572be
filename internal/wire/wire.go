// Package wire implements the length-prefixed JSON framing shared by the
// client-facing control socket and the worker control pipe, plus the
// tagged request/response vocabulary spoken over both.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MaxFrameSize is the largest payload a single frame may carry. The
// 2-byte length prefix cannot address more than this.
const MaxFrameSize = 65535

// ReadFrame reads one length-prefixed frame from r. io.EOF (or
// io.ErrUnexpectedEOF on a torn length) propagates unchanged so callers
// can distinguish a clean peer close from a protocol error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes payload as one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadJSON reads one frame and unmarshals it into v.
func ReadJSON(r io.Reader, v any) error {
	b, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// WriteJSON marshals v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// RequestType tags a MasterRequest.
type RequestType string

const (
	ReqPing        RequestType = "Ping"
	ReqStart       RequestType = "Start"
	ReqReload      RequestType = "Reload"
	ReqRestart     RequestType = "Restart"
	ReqStop        RequestType = "Stop"
	ReqPause       RequestType = "Pause"
	ReqResume      RequestType = "Resume"
	ReqStatus      RequestType = "Status"
	ReqServicePids RequestType = "SPid"
	ReqPid         RequestType = "Pid"
	ReqVersion     RequestType = "Version"
	ReqQuit        RequestType = "Quit"
)

// MasterRequest is a single client command. Name is unused by Ping, Pid,
// Version and Quit.
type MasterRequest struct {
	Type RequestType `json:"type"`
	Name string      `json:"name,omitempty"`
}

// ResponseType tags a MasterResponse.
type ResponseType string

const (
	RespPong              ResponseType = "Pong"
	RespDone              ResponseType = "Done"
	RespServiceStarted    ResponseType = "ServiceStarted"
	RespServiceStopped    ResponseType = "ServiceStopped"
	RespServiceFailed     ResponseType = "ServiceFailed"
	RespServiceStatus     ResponseType = "ServiceStatus"
	RespServiceWorkerPids ResponseType = "ServiceWorkerPids"
	RespPid               ResponseType = "Pid"
	RespVersion           ResponseType = "Version"

	RespErrorNotReady        ResponseType = "ErrorNotReady"
	RespErrorUnknownService  ResponseType = "ErrorUnknownService"
	RespErrorServiceStopped  ResponseType = "ErrorServiceStopped"
	RespErrorServiceStarting ResponseType = "ErrorServiceStarting"
	RespErrorServiceReloading ResponseType = "ErrorServiceReloading"
	RespErrorServiceStopping ResponseType = "ErrorServiceStopping"
	RespErrorServiceRunning  ResponseType = "ErrorServiceRunning"
	RespErrorServiceFailed   ResponseType = "ErrorServiceFailed"
)

// ResourceSample is an additive per-worker resource snapshot, folded into
// ServiceStatus responses when the resource sampler is enabled. It does
// not correspond to any response variant of its own.
type ResourceSample struct {
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	SampledAt  time.Time `json:"sampled_at"`
}

// WorkerEvent is one ring-buffer entry recorded on every Worker Handle
// state transition.
type WorkerEvent struct {
	Time   time.Time `json:"time"`
	State  string    `json:"state"`
	Reason Reason    `json:"reason"`
}

// WorkerStatus is the per-worker slice of a ServiceStatus response.
type WorkerStatus struct {
	Label    string          `json:"label"`
	Events   []WorkerEvent   `json:"events"`
	Resource *ResourceSample `json:"resource,omitempty"`
}

// ServiceStatusPayload is the payload of a ServiceStatus response: a
// service-level label plus every worker's label and event history.
type ServiceStatusPayload struct {
	Label   string         `json:"label"`
	Workers []WorkerStatus `json:"workers"`
}

// MasterResponse is a single reply to a MasterRequest, or an unsolicited
// heartbeat Pong.
type MasterResponse struct {
	Type    ResponseType          `json:"type"`
	Status  *ServiceStatusPayload `json:"status,omitempty"`
	Pids    []string              `json:"pids,omitempty"`
	Pid     string                `json:"pid,omitempty"`
	Version string                `json:"version,omitempty"`
}

// Reason records why a state transition happened. Carried inside status
// events; never a first-class request on the wire.
type Reason string

const (
	ReasonNone              Reason = "None"
	ReasonInitial            Reason = "Initial"
	ReasonConsoleRequest     Reason = "ConsoleRequest"
	ReasonExit               Reason = "Exit"
	ReasonSomeWorkersFailed  Reason = "SomeWorkersFailed"
	ReasonHeartbeatFailure   Reason = "HeartbeatFailure"
	ReasonStartupTimeout     Reason = "StartupTimeout"
	ReasonForcedKill         Reason = "ForcedKill"
	ReasonShutdownTimeout    Reason = "ShutdownTimeout"
	ReasonResourceLimit      Reason = "ResourceLimit"
)

// WorkerCommandType tags a command sent down the worker control pipe.
type WorkerCommandType string

const (
	WorkerCmdStart   WorkerCommandType = "Start"
	WorkerCmdPause   WorkerCommandType = "Pause"
	WorkerCmdResume  WorkerCommandType = "Resume"
	WorkerCmdStop    WorkerCommandType = "Stop"
	WorkerCmdQuit    WorkerCommandType = "Quit"
	WorkerCmdHup     WorkerCommandType = "Hup"
	WorkerCmdPrepare WorkerCommandType = "Prepare"
)

// WorkerCommand is written to a worker's control pipe.
type WorkerCommand struct {
	Type WorkerCommandType `json:"type"`
}

// WorkerNotificationType tags a notification read from a worker's
// control pipe.
type WorkerNotificationType string

const (
	WorkerNoteLoaded    WorkerNotificationType = "Loaded"
	WorkerNoteHeartbeat WorkerNotificationType = "Heartbeat"
	WorkerNoteFailed    WorkerNotificationType = "Failed"
)

// WorkerNotification is read from a worker's control pipe.
type WorkerNotification struct {
	Type  WorkerNotificationType `json:"type"`
	Error string                 `json:"error,omitempty"`
}
