package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/turntimer/internal/api/request"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/api/ws"
)

func newTimerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Timer commands",
	}

	cmd.AddCommand(newTimerCreateCmd())
	cmd.AddCommand(newTimerFromGameCmd())
	cmd.AddCommand(newTimerGetCmd())
	cmd.AddCommand(newTimerListCmd())
	cmd.AddCommand(newTimerDeleteCmd())
	cmd.AddCommand(newTimerControlCmd(ws.CommandStart, "Start the current player's clock"))
	cmd.AddCommand(newTimerControlCmd(ws.CommandStop, "Stop the running clock"))
	cmd.AddCommand(newTimerControlCmd(ws.CommandNext, "Pass the turn to the next player"))
	cmd.AddCommand(newTimerControlCmd(ws.CommandPrev, "Give the turn back to the previous player"))
	cmd.AddCommand(newTimerReorderCmd())

	return cmd
}

// parsePlayer reads NAME, @USER_ID, either optionally followed by =#COLOR
func parsePlayer(spec string) (request.PlayerRequest, error) {
	var p request.PlayerRequest
	who, color, _ := strings.Cut(spec, "=")
	who = strings.TrimSpace(who)
	p.Color = strings.TrimSpace(color)

	if id, ok := strings.CutPrefix(who, "@"); ok {
		p.UserID = id
	} else {
		p.Name = who
	}
	if p.UserID == "" && p.Name == "" {
		return p, fmt.Errorf("invalid player %q: expected NAME or @USER_ID", spec)
	}
	return p, nil
}

// parseContext reads KIND/ID
func parseContext(spec string) (*request.ContextRequest, error) {
	kind, id, ok := strings.Cut(spec, "/")
	if !ok || kind == "" || id == "" {
		return nil, fmt.Errorf("invalid context %q: expected KIND/ID", spec)
	}
	return &request.ContextRequest{Kind: kind, ID: id}, nil
}

// parseTurnOrders reads PLAYER_ID=POSITION pairs
func parseTurnOrders(specs []string) ([]ws.TurnOrder, error) {
	orders := make([]ws.TurnOrder, 0, len(specs))
	for _, spec := range specs {
		id, pos, ok := strings.Cut(spec, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid turn order %q: expected PLAYER_ID=POSITION", spec)
		}
		n, err := strconv.Atoi(pos)
		if err != nil {
			return nil, fmt.Errorf("invalid position in %q: %w", spec, err)
		}
		orders = append(orders, ws.TurnOrder{PlayerID: id, TurnOrder: n})
	}
	return orders, nil
}

func newTimerCreateCmd() *cobra.Command {
	var (
		timerType  string
		initial    time.Duration
		increment  time.Duration
		current    int
		contextRef string
		players    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a timer",
		Example: `  timerctl timer create --player Alice --player "@u-42=#00ff00"
  timerctl timer create --type COUNT_DOWN --initial 10m --player Alice --player Bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.CreateTimerRequest{
				Type:            strings.ToUpper(timerType),
				InitialDuration: initial.Milliseconds(),
				ReloadIncrement: increment.Milliseconds(),
				CurrentPlayer:   current,
			}
			for _, spec := range players {
				p, err := parsePlayer(spec)
				if err != nil {
					return err
				}
				req.Players = append(req.Players, p)
			}
			if contextRef != "" {
				ctxRef, err := parseContext(contextRef)
				if err != nil {
					return err
				}
				req.Context = ctxRef
			}

			var result response.Timer
			if err := client.Post("/api/v1/timers", req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&timerType, "type", "", "COUNT_UP, COUNT_DOWN or RELOAD (default: COUNT_UP)")
	cmd.Flags().DurationVar(&initial, "initial", 0, "Time budget per player")
	cmd.Flags().DurationVar(&increment, "increment", 0, "Reload increment per turn")
	cmd.Flags().IntVar(&current, "current", 0, "Turn position that plays first")
	cmd.Flags().StringVar(&contextRef, "context", "", "Owning game or event as KIND/ID")
	cmd.Flags().StringArrayVar(&players, "player", nil, "Player as NAME or @USER_ID, optionally =#COLOR (repeatable, required)")
	_ = cmd.MarkFlagRequired("player")

	return cmd
}

func newTimerFromGameCmd() *cobra.Command {
	var (
		timerType string
		initial   time.Duration
		increment time.Duration
	)

	cmd := &cobra.Command{
		Use:   "from-game <game_id>",
		Short: "Create a timer for a completed game's players",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.CreateGameTimerRequest{
				Type:            strings.ToUpper(timerType),
				InitialDuration: initial.Milliseconds(),
				ReloadIncrement: increment.Milliseconds(),
			}

			var result response.Timer
			if err := client.Post(fmt.Sprintf("/api/v1/games/%s/timer", args[0]), req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&timerType, "type", "", "COUNT_UP, COUNT_DOWN or RELOAD (default: COUNT_UP)")
	cmd.Flags().DurationVar(&initial, "initial", 0, "Time budget per player")
	cmd.Flags().DurationVar(&increment, "increment", 0, "Reload increment per turn")

	return cmd
}

func newTimerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTimer(cmd, args[0])
		},
	}
}

func printTimer(cmd *cobra.Command, id string) error {
	var result response.Timer
	if err := client.Get(fmt.Sprintf("/api/v1/timers/%s", id), &result); err != nil {
		return err
	}
	output(cmd).Print(result)
	return nil
}

func newTimerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List timers you created or play in",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.TimerList

			if err := client.Get("/api/v1/timers", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newTimerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a timer (creator or context owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(fmt.Sprintf("/api/v1/timers/%s", args[0])); err != nil {
				return err
			}

			output(cmd).PrintMessage(fmt.Sprintf("Deleted timer %s", args[0]))
			return nil
		},
	}
}

// runOnTimer follows a timer over the websocket and issues one command
func runOnTimer(cmd *cobra.Command, id string, frame ws.ClientFrame) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	sock, err := client.DialSocket(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sock.Close() }()

	out := output(cmd)
	notes := func(f ws.ServerFrame) {
		if f.Event == ws.EventError && f.Note {
			out.PrintError(&APIError{Code: f.Code, Message: f.Message})
		}
	}

	if _, err := sock.Command(ws.ClientFrame{Command: ws.CommandFollow, TimerID: id}, nil); err != nil {
		return err
	}
	if _, err := sock.Command(frame, notes); err != nil {
		return err
	}
	return printTimer(cmd, id)
}

func newTimerControlCmd(command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnTimer(cmd, args[0], ws.ClientFrame{Command: command})
		},
	}
}

func newTimerReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id> <player_id=position>...",
		Short: "Assign players new turn positions",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := parseTurnOrders(args[1:])
			if err != nil {
				return err
			}
			return runOnTimer(cmd, args[0], ws.ClientFrame{Command: ws.CommandReorderTurns, TurnOrders: orders})
		},
	}
}
