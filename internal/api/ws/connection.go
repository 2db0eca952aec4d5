package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/turntimer/internal/api/apierr"
	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/room"
)

// connection is one websocket client. Commands are read and run one at a
// time; a separate pump owns all writes.
type connection struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	session *room.Session
	logger  *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(h *Handler, conn *websocket.Conn, id string, actor model.UserID) *connection {
	c := &connection{
		id:      id,
		conn:    conn,
		handler: h,
		logger: h.logger.With(
			slog.String("conn_id", id),
			slog.String("user_id", string(actor))),
		send: make(chan []byte, h.config.SendBuffer),
		done: make(chan struct{}),
	}
	c.session = room.NewSession(id, actor, c)
	return c
}

// Ensure connection can receive a session's frames
var _ room.Sink = (*connection)(nil)

// Send queues a timer event without blocking
func (c *connection) Send(ev model.Event) bool {
	return c.push(eventFrame(ev))
}

// Close stops the write pump, which closes the socket
func (c *connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) push(frame ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", slog.String("event", frame.Event), slog.Any("error", err))
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.Close()
		return false
	}
}

func (c *connection) writePump() {
	cfg := c.handler.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", slog.Any("error", err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}

func (c *connection) readPump(ctx context.Context) {
	cfg := c.handler.config
	// Commands outlive a dropped connection rather than abort mid unit of work
	ctx = context.WithoutCancel(ctx)

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("unexpected websocket close", slog.Any("error", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.push(errorFrame(frame, apierr.NewValidationError("malformed frame")))
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *connection) dispatch(ctx context.Context, f ClientFrame) {
	rooms := c.handler.rooms
	var (
		snap *model.Snapshot
		note error
		err  error
	)

	switch f.Command {
	case CommandFollow:
		snap, err = rooms.Follow(ctx, c.session, model.TimerID(f.TimerID))
	case CommandUnfollow:
		err = rooms.Unfollow(c.session)
	case CommandStart:
		err = rooms.Start(ctx, c.session)
	case CommandStop:
		err = rooms.Stop(ctx, c.session)
	case CommandNext, CommandPrev:
		advance := rooms.Next
		if f.Command == CommandPrev {
			advance = rooms.Prev
		}
		res, advErr := advance(ctx, c.session)
		err, note = advErr, res.StartErr
	case CommandReorderTurns:
		var assignments map[model.PlayerTimerID]int
		assignments, err = f.assignments()
		if err == nil {
			err = rooms.ReorderTurns(ctx, c.session, assignments)
		}
	case CommandDelete:
		err = rooms.Delete(ctx, c.session, model.TimerID(f.TimerID))
	default:
		err = apierr.NewValidationError("unknown command")
	}

	if err != nil {
		if apierr.IsInternal(err) {
			c.logger.Error("command failed",
				slog.String("command", f.Command),
				slog.String("timer_id", f.TimerID),
				slog.Any("error", err))
		}
		c.push(errorFrame(f, err))
		return
	}
	if note != nil {
		frame := errorFrame(f, note)
		frame.Note = true
		c.push(frame)
	}
	c.push(ackFrame(f, snap))
}
