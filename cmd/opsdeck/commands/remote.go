package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/server"
)

// daemonClient talks to a running `pulse start` over its event socket.
// Executions are owned by the process that launched them, so cancel and
// input for daemon runs have to travel through the daemon.
type daemonClient struct {
	baseURL string // ws://host:port
	dialer  *websocket.Dialer
}

func newDaemonClient(cfg *am.Config) *daemonClient {
	return &daemonClient{
		baseURL: fmt.Sprintf("ws://127.0.0.1:%d", cfg.GetServerPort()),
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// streamMessage is the union of everything the server sends
type streamMessage struct {
	Type        string `json:"type"`
	ExecutionID int64  `json:"execution_id"`
	Status      string `json:"status"`
	Output      string `json:"output"`
	ScriptName  string `json:"script_name"`
	Action      string `json:"action"`
	Error       string `json:"error"`
}

// dialExecution opens /ws/executions/{id} and returns its snapshot
func (d *daemonClient) dialExecution(ctx context.Context, id int64) (*websocket.Conn, *streamMessage, error) {
	url := fmt.Sprintf("%s/ws/executions/%d", d.baseURL, id)
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil, errors.NewNotFoundError("Execution %d not found", id)
		}
		return nil, nil, errors.WithHint(
			errors.Wrapf(err, "failed to reach the daemon at %s", d.baseURL),
			"start it with 'opsdeck pulse start'",
		)
	}

	snap, err := readMessage(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if snap.Type != server.MsgSnapshot {
		conn.Close()
		return nil, nil, errors.Newf("expected snapshot, got %q", snap.Type)
	}
	return conn, snap, nil
}

// Control sends cancel or input for one execution and waits for the reply.
func (d *daemonClient) Control(ctx context.Context, msg server.ControlMessage) error {
	conn, _, err := d.dialExecution(ctx, msg.ExecutionID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(msg); err != nil {
		return errors.Wrap(err, "failed to send control message")
	}
	for {
		reply, err := readMessage(ctx, conn)
		if err != nil {
			return err
		}
		switch reply.Type {
		case server.MsgAck:
			return nil
		case server.MsgError:
			return errors.NewPreconditionFailedError("%s", reply.Error)
		}
		// execution events may arrive before the reply
	}
}

// errLagged means the daemon dropped the connection because this client
// fell behind; reconnecting yields a fresh snapshot.
var errLagged = errors.New("event stream fell behind")

// Follow prints an execution's output until it reaches a terminal status.
// onOutput receives the snapshot output first, then each appended chunk.
// If the daemon disconnects a lagging follower, Follow reconnects and
// resumes from the new snapshot past what was already printed.
func (d *daemonClient) Follow(ctx context.Context, id int64, onOutput func(string)) (ledger.Status, error) {
	printed := 0
	emit := func(s string) {
		onOutput(s)
		printed += len(s)
	}
	for {
		status, err := d.follow(ctx, id, &printed, emit)
		if errors.Is(err, errLagged) {
			continue
		}
		return status, err
	}
}

func (d *daemonClient) follow(ctx context.Context, id int64, printed *int, emit func(string)) (ledger.Status, error) {
	conn, snap, err := d.dialExecution(ctx, id)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if len(snap.Output) > *printed {
		emit(snap.Output[*printed:])
	}
	if status := ledger.Status(snap.Status); status.IsTerminal() {
		return status, nil
	}

	for {
		msg, err := readMessage(ctx, conn)
		if err != nil {
			return "", err
		}
		switch events.Type(msg.Type) {
		case events.OutputAppended:
			emit(msg.Output)
		case events.StatusChanged:
			if status := ledger.Status(msg.Status); status.IsTerminal() {
				return status, nil
			}
		}
	}
}

func readMessage(ctx context.Context, conn *websocket.Conn) (*streamMessage, error) {
	// no deadline without one on ctx: a quiet execution may go minutes between lines
	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseGoingAway) {
			return nil, errors.New("daemon is shutting down")
		}
		if websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
			return nil, errLagged
		}
		return nil, errors.Wrap(err, "event stream closed")
	}
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "malformed message from daemon")
	}
	return &msg, nil
}
