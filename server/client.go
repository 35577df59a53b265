package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/server/wslogs"
)

// WebSocket timeouts, following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Control messages are small; input lines are the largest
	maxMessageSize = 64 * 1024
)

var clientSeq atomic.Uint64

// Client is one WebSocket connection. executionID 0 means every execution.
type Client struct {
	server      *Server
	conn        *websocket.Conn
	id          string
	executionID int64
	snapshot    *SnapshotMessage

	events  <-chan events.Event
	sendLog chan *wslogs.Batch
	sendMsg chan interface{}

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn, executionID int64, sub <-chan events.Event, snapshot *SnapshotMessage) *Client {
	return &Client{
		server:      s,
		conn:        conn,
		id:          fmt.Sprintf("%s_%d", conn.RemoteAddr(), clientSeq.Add(1)),
		executionID: executionID,
		snapshot:    snapshot,
		events:      sub,
		sendLog:     make(chan *wslogs.Batch, MaxClientMessageQueueSize),
		sendMsg:     make(chan interface{}, MaxClientMessageQueueSize),
		done:        make(chan struct{}),
	}
}

// readPump reads control messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error", logger.FieldClientID, c.id, logger.FieldError, err)
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.logger.Debugw("Ignoring malformed control message", logger.FieldClientID, c.id, logger.FieldError, err)
			c.reply(ReplyMessage{Type: MsgError, Error: "Malformed message"})
			continue
		}
		c.routeMessage(&msg)
	}
}

// routeMessage dispatches one control message
func (c *Client) routeMessage(msg *ControlMessage) {
	if msg.ExecutionID == 0 {
		msg.ExecutionID = c.executionID
	}

	switch msg.Type {
	case MsgCancel:
		c.handleControl(msg, func() error {
			return c.server.control.Cancel(c.server.ctx, msg.ExecutionID)
		})
	case MsgInput:
		c.handleControl(msg, func() error {
			return c.server.control.ProvideInput(msg.ExecutionID, msg.Text)
		})
	case MsgPing:
		// deadline is refreshed by the pong handler
	default:
		c.reply(ReplyMessage{Type: MsgError, Action: msg.Type, Error: "Unknown message type"})
	}
}

func (c *Client) handleControl(msg *ControlMessage, act func() error) {
	if msg.ExecutionID <= 0 {
		c.reply(ReplyMessage{Type: MsgError, Action: msg.Type, Error: "execution_id is required"})
		return
	}

	c.server.logger.Infow("Control request",
		"action", msg.Type,
		logger.FieldExecutionID, msg.ExecutionID,
		logger.FieldClientID, c.id,
	)

	if err := act(); err != nil {
		if !errors.IsNotFoundError(err) && !errors.IsPreconditionFailedError(err) {
			c.server.logger.Errorw("Control request failed",
				"action", msg.Type,
				logger.FieldExecutionID, msg.ExecutionID,
				logger.FieldError, err,
			)
		}
		c.reply(ReplyMessage{Type: MsgError, Action: msg.Type, ExecutionID: msg.ExecutionID, Error: errors.UserMessage(err)})
		return
	}
	c.reply(ReplyMessage{Type: MsgAck, Action: msg.Type, ExecutionID: msg.ExecutionID})
}

// reply queues a message for writePump
func (c *Client) reply(msg interface{}) {
	select {
	case c.sendMsg <- msg:
	case <-c.done:
	default:
		c.server.logger.Warnw("Client message queue full, dropping reply", logger.FieldClientID, c.id)
	}
}

// writePump is the only writer on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if c.snapshot != nil {
		if err := c.write(c.snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-c.done:
			return

		case ev, ok := <-c.events:
			if !ok {
				if !c.server.hub.Closed() {
					// evicted by the hub: tell the peer to reconnect and re-read the snapshot
					c.server.logger.Warnw("Client fell behind the event stream, disconnecting", logger.FieldClientID, c.id)
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, CloseReasonLagged))
				}
				return
			}
			if err := c.write(ev); err != nil {
				return
			}

		case batch := <-c.sendLog:
			if batch = c.filterLogs(batch); batch == nil {
				continue
			}
			if err := c.write(LogsMessage{Type: MsgLogs, Data: batch}); err != nil {
				return
			}

		case msg := <-c.sendMsg:
			if err := c.write(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(v interface{}) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.server.logger.Debugw("WebSocket write error", logger.FieldClientID, c.id, logger.FieldError, err)
		return err
	}
	return nil
}

// filterLogs keeps only lines about this client's execution on a
// per-execution stream. The firehose gets every line.
func (c *Client) filterLogs(batch *wslogs.Batch) *wslogs.Batch {
	if batch == nil {
		return nil
	}
	if c.executionID == 0 {
		return batch
	}
	var kept []wslogs.Message
	for _, m := range batch.Messages {
		if m.ExecutionID == c.executionID {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &wslogs.Batch{Messages: kept, Timestamp: batch.Timestamp}
}

// close signals writePump to stop; safe to call more than once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
