package server

import (
	"time"

	"github.com/teranos/opsdeck/server/wslogs"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds the graceful HTTP shutdown
	ShutdownTimeout = 10 * time.Second
	// DefaultLogFlushInterval is how often daemon log lines are pushed to clients
	DefaultLogFlushInterval = 500 * time.Millisecond
)

// Inbound control message types
const (
	MsgCancel = "cancel"
	MsgInput  = "input"
	MsgPing   = "ping"
)

// Outbound message types besides the execution events themselves
const (
	MsgSnapshot = "snapshot"
	MsgLogs     = "logs"
	MsgAck      = "ack"
	MsgError    = "error"
)

// CloseReasonLagged accompanies the CloseTryAgainLater frame sent to a
// client that fell behind the event stream. Events after the last one it
// received are lost to it; it should reconnect and start from a snapshot.
const CloseReasonLagged = "event stream fell behind"

// ControlMessage is sent by clients to act on an execution.
// On /ws/executions/{id} the execution id defaults to the path id.
type ControlMessage struct {
	Type        string `json:"type"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	Text        string `json:"text,omitempty"`
}

// ReplyMessage answers a control message
type ReplyMessage struct {
	Type        string `json:"type"` // ack or error
	Action      string `json:"action"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SnapshotMessage is the first message on an execution stream, carrying
// everything produced before the client connected.
type SnapshotMessage struct {
	Type        string     `json:"type"`
	ExecutionID int64      `json:"execution_id"`
	ScriptName  string     `json:"script_name"`
	Status      string     `json:"status"`
	Output      string     `json:"output"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

// LogsMessage carries daemon log lines
type LogsMessage struct {
	Type string        `json:"type"`
	Data *wslogs.Batch `json:"data"`
}
