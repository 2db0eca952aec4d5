package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/api/ws"
	"github.com/mcoot/turntimer/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	out    io.Writer
	errOut io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, out, errOut io.Writer) *Output {
	return &Output{format: format, out: out, errOut: errOut}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		_, _ = fmt.Fprintln(o.errOut, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errOut, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.out, string(data))
	} else {
		_, _ = fmt.Fprintln(o.out, msg)
	}
}

// PrintFrame outputs a websocket frame, one line per frame in JSON mode
func (o *Output) PrintFrame(f ws.ServerFrame) {
	if o.format == "json" {
		data, _ := json.Marshal(f)
		_, _ = fmt.Fprintln(o.out, string(data))
		return
	}
	o.printFrame(f)
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.User:
		o.printUser(v)
	case response.AuthResponse:
		o.printAuthResult(v)
	case response.Timer:
		o.printTimer(v)
	case response.TimerList:
		o.printTimerList(v)
	case response.Health:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.out, format, args...)
}

func (o *Output) printUser(u response.User) {
	guestStr := "no"
	if u.IsGuest {
		guestStr = "yes"
	}
	o.printf("User: %s (%s)\n", u.DisplayName, u.ID)
	o.printf("Guest: %s\n", guestStr)
}

func (o *Output) printAuthResult(a response.AuthResponse) {
	o.printUser(a.User)
	o.printf("Token: %s\n", a.SessionToken)
	o.printf("Expires: %s\n", a.ExpiresAt.Local().Format(time.DateTime))
}

func (o *Output) printTimer(t response.Timer) {
	o.printf("Timer: %s (%s)\n", t.ID, t.Type)
	o.printf("Version: %d\n", t.Version)
	if t.Type != string(model.TimerTypeCountUp) {
		o.printf("Budget: %s\n", formatMillis(t.InitialDuration))
	}
	if t.ReloadIncrement != nil {
		o.printf("Increment: %s\n", formatMillis(*t.ReloadIncrement))
	}
	if t.Context != nil {
		o.printf("Context: %s/%s\n", t.Context.Kind, t.Context.ID)
	}
	o.printf("Players (%d):\n", len(t.Players))
	for _, p := range t.Players {
		marker := " "
		if p.TurnOrder == t.CurrentPlayer {
			marker = ">"
		}
		status := ""
		if p.Running {
			status = " [running]"
		}
		o.printf("  %s %d. %s  %s%s\n", marker, p.TurnOrder, playerLabel(p), o.clockText(t, p), status)
	}
}

// clockText shows time used, or time left for count-down style timers
func (o *Output) clockText(t response.Timer, p response.Player) string {
	elapsed := p.Elapsed
	if p.Running && p.Start != nil {
		elapsed += time.Since(*p.Start).Milliseconds()
	}
	if t.Type == string(model.TimerTypeCountUp) {
		return formatMillis(elapsed)
	}
	return formatMillis(t.InitialDuration-elapsed) + " left"
}

func playerLabel(p response.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return "@" + p.UserID
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func (o *Output) printTimerList(l response.TimerList) {
	if len(l.Timers) == 0 {
		o.printf("No timers\n")
		return
	}
	for _, t := range l.Timers {
		ctx := ""
		if t.Context != nil {
			ctx = fmt.Sprintf(" %s/%s", t.Context.Kind, t.Context.ID)
		}
		o.printf("%s  %-10s v%d%s\n", t.ID, t.Type, t.Version, ctx)
	}
}

func (o *Output) printFrame(f ws.ServerFrame) {
	timestamp := time.Now().Format(time.DateTime)
	switch f.Event {
	case ws.EventError:
		kind := "error"
		if f.Note {
			kind = "note"
		}
		o.printf("[%s] %s: %s (%s)\n", timestamp, kind, f.Message, f.Code)
	case ws.EventAck:
		o.printf("[%s] ok %s\n", timestamp, f.Command)
	default:
		o.printf("[%s] %s v%d\n", timestamp, strings.TrimPrefix(f.Event, "timer_"), f.Version)
	}
	if f.Timer != nil {
		o.printTimer(*f.Timer)
	}
}

func (o *Output) printHealthResult(h response.Health) {
	o.printf("Status: %s\n", h.Status)
}
