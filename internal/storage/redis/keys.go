package redis

import (
	"fmt"

	"github.com/mcoot/turntimer/internal/model"
)

// Key prefix for all timer-related data
const keyPrefix = "turntimer"

// timerKey returns the Redis key for a Timer document
func timerKey(id model.TimerID) string {
	return fmt.Sprintf("%s:timer:%s", keyPrefix, id)
}

// playersKey returns the Redis key for the HASH of player timers, keyed by player id
func playersKey(id model.TimerID) string {
	return fmt.Sprintf("%s:timer:%s:players", keyPrefix, id)
}

// userTimersIndexKey returns the Redis key for the SET of timers a user created or plays in
func userTimersIndexKey(user model.UserID) string {
	return fmt.Sprintf("%s:idx:user_timers:%s", keyPrefix, user)
}

// lockKey returns the Redis key holding a timer's exclusive lock token
func lockKey(id model.TimerID) string {
	return fmt.Sprintf("%s:lock:timer:%s", keyPrefix, id)
}
