// Package natsrelay carries timer events between server instances over NATS.
// Every instance publishes committed events to a per-timer subject and
// relays everything it receives into its local hubs.
package natsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
)

const subjectPrefix = "turntimer.timer."

// Subject returns the subject events for a timer are published on
func Subject(id model.TimerID) string {
	return subjectPrefix + string(id)
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "turntimer",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect opens a NATS connection that logs disconnects and reconnects
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With(slog.String("component", "nats"))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", slog.Any("error", err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// publisher is the part of *nats.Conn the Broadcaster needs
type publisher interface {
	Publish(subj string, data []byte) error
}

// Broadcaster publishes events to NATS instead of local hubs
type Broadcaster struct {
	conn   publisher
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster publishing on conn
func NewBroadcaster(conn *nats.Conn, logger *slog.Logger) *Broadcaster {
	return newBroadcaster(conn, logger)
}

func newBroadcaster(conn publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		conn:   conn,
		logger: logger.With(slog.String("component", "nats-broadcaster")),
	}
}

// Ensure Broadcaster implements realtime.Broadcaster
var _ realtime.Broadcaster = (*Broadcaster)(nil)

// Publish sends the event on the timer's subject
func (b *Broadcaster) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(Subject(ev.TimerID), data); err != nil {
		b.logger.Error("publish failed",
			slog.String("timer_id", string(ev.TimerID)),
			slog.String("action", string(ev.Action)),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Relay feeds events received from NATS into a local broadcaster
type Relay struct {
	local  realtime.Broadcaster
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewRelay creates a Relay delivering into local
func NewRelay(local realtime.Broadcaster, logger *slog.Logger) *Relay {
	return &Relay{
		local:  local,
		logger: logger.With(slog.String("component", "nats-relay")),
	}
}

// Start subscribes to every timer subject. Messages are handled one at a
// time, which keeps per-timer order.
func (r *Relay) Start(conn *nats.Conn) error {
	sub, err := conn.Subscribe(subjectPrefix+"*", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	r.sub = sub
	r.logger.Info("relay subscribed", slog.String("subject", sub.Subject))
	return nil
}

// Stop drains the subscription
func (r *Relay) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

func (r *Relay) handle(msg *nats.Msg) {
	var ev model.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.logger.Error("invalid event message",
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return
	}
	if id := strings.TrimPrefix(msg.Subject, subjectPrefix); id != string(ev.TimerID) {
		r.logger.Warn("event subject mismatch",
			slog.String("subject", msg.Subject),
			slog.String("timer_id", string(ev.TimerID)))
		return
	}
	if err := r.local.Publish(context.Background(), ev); err != nil {
		r.logger.Error("relay delivery failed",
			slog.String("timer_id", string(ev.TimerID)),
			slog.Any("error", err))
	}
}
