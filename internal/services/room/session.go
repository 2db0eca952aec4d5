package room

import (
	"sync"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/realtime"
)

// Sink receives the frames a session is sent. Send must not block.
type Sink interface {
	Send(ev model.Event) bool
	Close()
}

// Follow records the timer a session follows
type Follow struct {
	TimerID model.TimerID `json:"timer_id"`
}

// State is the serialisable form of a session
type State struct {
	ConnID    string       `json:"conn_id"`
	Actor     model.UserID `json:"actor"`
	Following *Follow      `json:"following,omitempty"`
}

// Session is the per-connection record. It holds no timer state of its own;
// every command reads the timer afresh.
type Session struct {
	ConnID string
	Actor  model.UserID

	mu        sync.Mutex
	following *Follow
	sink      Sink
}

// NewSession creates a session for an authenticated connection
func NewSession(connID string, actor model.UserID, sink Sink) *Session {
	return &Session{ConnID: connID, Actor: actor, sink: sink}
}

// Ensure Session implements realtime.Member
var _ realtime.Member = (*Session)(nil)

// State returns a copy of the session record
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{ConnID: s.ConnID, Actor: s.Actor}
	if s.following != nil {
		f := *s.following
		st.Following = &f
	}
	return st
}

// Following returns the followed timer id, if any
func (s *Session) Following() (model.TimerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.following == nil {
		return "", false
	}
	return s.following.TimerID, true
}

func (s *Session) setFollowing(id model.TimerID) {
	s.mu.Lock()
	s.following = &Follow{TimerID: id}
	s.mu.Unlock()
}

// clearFollowing drops the follow if it still points at id
func (s *Session) clearFollowing(id model.TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.following == nil || s.following.TimerID != id {
		return false
	}
	s.following = nil
	return true
}

func (s *Session) MemberID() string {
	return s.ConnID
}

func (s *Session) Deliver(ev model.Event) bool {
	return s.sink.Send(ev)
}

// Evict forces an unfollow. Slow consumers are disconnected.
func (s *Session) Evict(timerID model.TimerID, reason realtime.EvictReason) {
	s.clearFollowing(timerID)
	if reason == realtime.EvictSlow {
		s.sink.Close()
	}
}
