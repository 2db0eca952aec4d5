package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/turntimer/internal/api/ws"
)

// Socket is a command connection to the server
type Socket struct {
	conn *websocket.Conn
	refs int
}

func newSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

// Read blocks for the next frame
func (s *Socket) Read() (ws.ServerFrame, error) {
	var frame ws.ServerFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return ws.ServerFrame{}, err
	}
	return frame, nil
}

// Command sends a frame and waits for its ack. Frames that arrive meanwhile,
// including non-fatal notes about the command, are passed to onFrame.
func (s *Socket) Command(frame ws.ClientFrame, onFrame func(ws.ServerFrame)) (ws.ServerFrame, error) {
	s.refs++
	frame.Ref = strconv.Itoa(s.refs)
	if err := s.conn.WriteJSON(frame); err != nil {
		return ws.ServerFrame{}, fmt.Errorf("send %s: %w", frame.Command, err)
	}

	for {
		reply, err := s.Read()
		if err != nil {
			return ws.ServerFrame{}, fmt.Errorf("await %s: %w", frame.Command, err)
		}
		if reply.Ref == frame.Ref {
			if reply.Event == ws.EventAck {
				return reply, nil
			}
			if reply.Event == ws.EventError && !reply.Note {
				return reply, &APIError{Code: reply.Code, Message: reply.Message}
			}
		}
		if onFrame != nil {
			onFrame(reply)
		}
	}
}

// Close says goodbye and closes the connection
func (s *Socket) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
