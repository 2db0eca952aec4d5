package response

import (
	"time"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/services/auth"
)

// User represents a user in API responses
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsGuest     bool   `json:"is_guest"`
}

// UserFromModel converts a model.User to a response User
func UserFromModel(u *model.User) User {
	return User{
		ID:          string(u.ID),
		DisplayName: u.DisplayName,
		IsGuest:     u.IsGuest,
	}
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	User         User      `json:"user"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		User:         UserFromModel(&s.User),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Context names the game or event owning a timer
type Context struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Player is one player's clock. Elapsed excludes the running segment; clients
// add now-start while running.
type Player struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Color     string     `json:"color"`
	TurnOrder int        `json:"turn_order"`
	Elapsed   int64      `json:"elapsed"`
	Start     *time.Time `json:"start"`
	Running   bool       `json:"running"`
}

// Timer is the full timer snapshot sent to clients
type Timer struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	InitialDuration int64    `json:"initial_duration"`
	ReloadIncrement *int64   `json:"reload_increment,omitempty"`
	CurrentPlayer   int      `json:"current_player"`
	Version         int64    `json:"version"`
	Creator         string   `json:"creator"`
	Context         *Context `json:"context,omitempty"`
	Players         []Player `json:"players"`
}

// TimerFromSnapshot converts a snapshot, players in turn order
func TimerFromSnapshot(snap *model.Snapshot) Timer {
	t := snap.Timer
	players := make([]Player, len(snap.Players))
	for i, p := range snap.Players {
		players[i] = Player{
			ID:        string(p.ID),
			UserID:    string(p.UserID),
			Name:      p.Name,
			Color:     p.Color,
			TurnOrder: p.TurnOrder,
			Elapsed:   p.Elapsed,
			Start:     p.Start,
			Running:   p.Running(),
		}
	}

	resp := Timer{
		ID:              string(t.ID),
		Type:            string(t.Type),
		InitialDuration: t.InitialDuration,
		CurrentPlayer:   t.CurrentPlayer,
		Version:         t.Version,
		Creator:         string(t.Creator),
		Players:         players,
	}
	if t.Reload != nil {
		inc := t.Reload.DurationIncrement
		resp.ReloadIncrement = &inc
	}
	if t.Context != nil {
		resp.Context = &Context{Kind: string(t.Context.Kind), ID: t.Context.ID}
	}
	return resp
}

// TimerSummary is a timer without its players, used in listings
type TimerSummary struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	InitialDuration int64     `json:"initial_duration"`
	CurrentPlayer   int       `json:"current_player"`
	Version         int64     `json:"version"`
	Creator         string    `json:"creator"`
	Context         *Context  `json:"context,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TimerSummaryFromModel converts a model.Timer
func TimerSummaryFromModel(t *model.Timer) TimerSummary {
	s := TimerSummary{
		ID:              string(t.ID),
		Type:            string(t.Type),
		InitialDuration: t.InitialDuration,
		CurrentPlayer:   t.CurrentPlayer,
		Version:         t.Version,
		Creator:         string(t.Creator),
		CreatedAt:       t.CreatedAt,
	}
	if t.Context != nil {
		s.Context = &Context{Kind: string(t.Context.Kind), ID: t.Context.ID}
	}
	return s
}

// TimerList is the response for listing timers
type TimerList struct {
	Timers []TimerSummary `json:"timers"`
}

// Health is the health check response
type Health struct {
	Status string `json:"status"`
}
