package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcoot/turntimer/internal/api/ws"
	"github.com/mcoot/turntimer/internal/model"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a timer and stream its events",
		Long: `Follow a timer over the websocket and print every event as it happens.

Events include:
  - timer_start: A player's clock started
  - timer_stop: The running clock stopped
  - timer_next / timer_prev: The turn moved
  - timer_change_player_turn_order: Players were reordered
  - timer_delete: The timer was deleted (the stream ends)

Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchTimer(cmd, args[0])
		},
	}
}

func watchTimer(cmd *cobra.Command, id string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sock, err := client.DialSocket(ctx)
	if err != nil {
		return err
	}

	// Closing the socket unblocks the read loop on interrupt
	go func() {
		<-ctx.Done()
		_ = sock.Close()
	}()

	out := output(cmd)
	ack, err := sock.Command(ws.ClientFrame{Command: ws.CommandFollow, TimerID: id}, nil)
	if err != nil {
		return err
	}
	out.PrintFrame(ack)

	for {
		frame, err := sock.Read()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				out.PrintMessage("Disconnected")
				return nil
			}
			return err
		}
		out.PrintFrame(frame)
		if frame.Event == string(model.ActionDelete) {
			cancel()
			return nil
		}
	}
}
