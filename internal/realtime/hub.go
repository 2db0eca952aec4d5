package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mcoot/turntimer/internal/model"
)

// ErrHubClosed is returned when publishing to a hub that has shut down
var ErrHubClosed = errors.New("hub closed")

// EvictReason says why a member was removed from a group
type EvictReason string

const (
	EvictDeleted  EvictReason = "timer_deleted"
	EvictSlow     EvictReason = "slow_consumer"
	EvictShutdown EvictReason = "shutdown"
)

// Member is a connection registered in a timer's group
type Member interface {
	MemberID() string

	// Deliver queues an event without blocking. It returns false when the
	// member cannot keep up.
	Deliver(ev model.Event) bool

	// Evict is called after the hub has removed the member
	Evict(timerID model.TimerID, reason EvictReason)
}

// Hub fans events for a single timer out to its members, in publish order
type Hub struct {
	timerID model.TimerID
	members map[string]Member
	mu      sync.RWMutex
	logger  *slog.Logger

	events    chan model.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a new Hub for a timer
func NewHub(timerID model.TimerID, logger *slog.Logger) *Hub {
	return &Hub{
		timerID: timerID,
		members: make(map[string]Member),
		logger:  logger.With(slog.String("timer_id", string(timerID))),
		events:  make(chan model.Event, 64),
		done:    make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Debug("hub started")
	for {
		select {
		case ev := <-h.events:
			h.deliver(ev)

		case <-h.done:
			h.mu.Lock()
			evicted := h.members
			h.members = make(map[string]Member)
			h.mu.Unlock()
			for _, m := range evicted {
				m.Evict(h.timerID, EvictShutdown)
			}
			h.logger.Debug("hub stopped", slog.Int("evicted_members", len(evicted)))
			return
		}
	}
}

func (h *Hub) deliver(ev model.Event) {
	h.mu.RLock()
	members := make([]Member, 0, len(h.members))
	for _, m := range h.members {
		members = append(members, m)
	}
	h.mu.RUnlock()

	for _, m := range members {
		if !m.Deliver(ev) {
			h.logger.Warn("evicting slow member",
				slog.String("member_id", m.MemberID()),
				slog.String("action", string(ev.Action)))
			if h.Leave(m.MemberID()) {
				m.Evict(h.timerID, EvictSlow)
			}
		}
	}

	if ev.Terminal() {
		h.mu.Lock()
		evicted := h.members
		h.members = make(map[string]Member)
		h.mu.Unlock()
		for _, m := range evicted {
			m.Evict(h.timerID, EvictDeleted)
		}
		h.logger.Info("group closed",
			slog.String("action", string(ev.Action)),
			slog.Int("evicted_members", len(evicted)))
	}
}

// Join adds a member. Events published after Join returns reach it.
func (h *Hub) Join(m Member) {
	h.mu.Lock()
	h.members[m.MemberID()] = m
	count := len(h.members)
	h.mu.Unlock()
	h.logger.Debug("member joined",
		slog.String("member_id", m.MemberID()),
		slog.Int("total_members", count))
}

// Leave removes a member, reporting whether it was present
func (h *Hub) Leave(memberID string) bool {
	h.mu.Lock()
	_, ok := h.members[memberID]
	delete(h.members, memberID)
	h.mu.Unlock()
	return ok
}

// Publish queues an event for delivery. It blocks while the queue is full.
func (h *Hub) Publish(ctx context.Context, ev model.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the hub, evicting remaining members
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// MemberCount returns the number of members
func (h *Hub) MemberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// HubManager manages hubs for all followed timers
type HubManager struct {
	hubs   map[model.TimerID]*Hub
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:   make(map[model.TimerID]*Hub),
		logger: logger.With(slog.String("component", "realtime")),
	}
}

// GetOrCreateHub returns the hub for a timer, creating one if it doesn't exist
func (m *HubManager) GetOrCreateHub(timerID model.TimerID) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(timerID)
}

func (m *HubManager) getOrCreateLocked(timerID model.TimerID) *Hub {
	if hub, ok := m.hubs[timerID]; ok {
		return hub
	}
	hub := NewHub(timerID, m.logger)
	m.hubs[timerID] = hub
	go hub.Run()
	return hub
}

// Join adds a member to a timer's group. Holding the manager lock keeps
// CleanupEmptyHubs from closing the hub in between.
func (m *HubManager) Join(timerID model.TimerID, member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(timerID).Join(member)
}

// Leave removes a member from a timer's group
func (m *HubManager) Leave(timerID model.TimerID, memberID string) bool {
	hub := m.GetHub(timerID)
	if hub == nil {
		return false
	}
	return hub.Leave(memberID)
}

// GetHub returns the hub for a timer, or nil if it doesn't exist
func (m *HubManager) GetHub(timerID model.TimerID) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[timerID]
}

// RemoveHub removes and closes a hub
func (m *HubManager) RemoveHub(timerID model.TimerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[timerID]; ok {
		hub.Close()
		delete(m.hubs, timerID)
		m.logger.Info("hub removed", slog.String("timer_id", string(timerID)))
	}
}

// CleanupEmptyHubs removes hubs with no members
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedCount := 0
	for id, hub := range m.hubs {
		if hub.MemberCount() == 0 {
			hub.Close()
			delete(m.hubs, id)
			removedCount++
		}
	}
	if removedCount > 0 {
		m.logger.Info("empty hubs cleaned up", slog.Int("removed", removedCount))
	}
}

// HubCount returns the number of live hubs
func (m *HubManager) HubCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}

// Close shuts down every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, hub := range m.hubs {
		hub.Close()
		delete(m.hubs, id)
	}
}
