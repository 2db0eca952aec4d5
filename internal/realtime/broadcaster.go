package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/turntimer/internal/model"
)

// Broadcaster publishes committed timer events to the timer's group
type Broadcaster interface {
	Publish(ctx context.Context, ev model.Event) error
}

// LocalBroadcaster delivers events to hubs in this process
type LocalBroadcaster struct {
	hubManager *HubManager
	logger     *slog.Logger
}

// NewLocalBroadcaster creates a new LocalBroadcaster
func NewLocalBroadcaster(hubManager *HubManager, logger *slog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		hubManager: hubManager,
		logger:     logger.With(slog.String("component", "broadcaster")),
	}
}

// Ensure LocalBroadcaster implements Broadcaster
var _ Broadcaster = (*LocalBroadcaster)(nil)

// Publish hands the event to the timer's hub. A timer nobody follows has no hub.
func (b *LocalBroadcaster) Publish(ctx context.Context, ev model.Event) error {
	hub := b.hubManager.GetHub(ev.TimerID)
	if hub == nil {
		return nil
	}
	err := hub.Publish(ctx, ev)
	if errors.Is(err, ErrHubClosed) {
		// Cleaned up between lookup and publish, so there is nobody to tell
		return nil
	}
	if err != nil {
		b.logger.Error("publish failed",
			slog.String("timer_id", string(ev.TimerID)),
			slog.String("action", string(ev.Action)),
			slog.Any("error", err))
	}
	return err
}
