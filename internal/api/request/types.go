package request

import "github.com/mcoot/turntimer/internal/model"

// CreateGuestRequest is the request body for creating a guest user
type CreateGuestRequest struct {
	DisplayName string `json:"display_name"`
}

// RegisterRequest is the request body for registering a user
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PlayerRequest seeds one player of a new timer
type PlayerRequest struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
}

// ContextRequest names the game or event a timer belongs to
type ContextRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// CreateTimerRequest is the request body for creating a timer
type CreateTimerRequest struct {
	Type            string          `json:"type,omitempty"`
	InitialDuration int64           `json:"initial_duration"`
	ReloadIncrement int64           `json:"reload_increment,omitempty"`
	CurrentPlayer   int             `json:"current_player,omitempty"`
	Context         *ContextRequest `json:"context,omitempty"`
	Players         []PlayerRequest `json:"players"`
}

// Settings converts the request to timer settings
func (r CreateTimerRequest) Settings() model.TimerSettings {
	settings := model.TimerSettings{
		Type:              model.TimerType(r.Type),
		InitialDuration:   r.InitialDuration,
		DurationIncrement: r.ReloadIncrement,
		CurrentPlayer:     r.CurrentPlayer,
		Players:           make([]model.PlayerSeed, len(r.Players)),
	}
	if r.Context != nil {
		settings.Context = &model.ContextRef{Kind: model.ContextKind(r.Context.Kind), ID: r.Context.ID}
	}
	for i, p := range r.Players {
		settings.Players[i] = model.PlayerSeed{UserID: model.UserID(p.UserID), Name: p.Name, Color: p.Color}
	}
	return settings
}

// CreateGameTimerRequest is the request body for creating a timer from a game.
// Players come from the game.
type CreateGameTimerRequest struct {
	Type            string `json:"type,omitempty"`
	InitialDuration int64  `json:"initial_duration"`
	ReloadIncrement int64  `json:"reload_increment,omitempty"`
}

// Settings converts the request to timer settings
func (r CreateGameTimerRequest) Settings() model.TimerSettings {
	return model.TimerSettings{
		Type:              model.TimerType(r.Type),
		InitialDuration:   r.InitialDuration,
		DurationIncrement: r.ReloadIncrement,
	}
}
