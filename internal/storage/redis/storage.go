package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/turntimer/internal/model"
	"github.com/mcoot/turntimer/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Begin opens a unit of work. Writes are buffered and sent as one MULTI/EXEC at commit.
func (s *Storage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return newUnitOfWork(s), nil
}

// fetchSnapshot reads a timer document and its players hash in a single MULTI
func (s *Storage) fetchSnapshot(ctx context.Context, id model.TimerID) (*model.Snapshot, error) {
	var timerCmd *redis.StringCmd
	var playersCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		timerCmd = pipe.Get(ctx, timerKey(id))
		playersCmd = pipe.HGetAll(ctx, playersKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := timerCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrTimerNotFound
		}
		return nil, err
	}
	timer, err := decodeTimer(data)
	if err != nil {
		return nil, err
	}
	players, err := decodePlayers(playersCmd.Val())
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(timer, players), nil
}

func (s *Storage) fetchTimer(ctx context.Context, id model.TimerID) (*model.Timer, error) {
	data, err := s.client.Get(ctx, timerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrTimerNotFound
		}
		return nil, err
	}
	return decodeTimer(data)
}

func decodeTimer(data []byte) (*model.Timer, error) {
	var timer model.Timer
	if err := json.Unmarshal(data, &timer); err != nil {
		return nil, fmt.Errorf("decode timer: %w", err)
	}
	return &timer, nil
}

func decodePlayers(fields map[string]string) ([]*model.PlayerTimer, error) {
	players := make([]*model.PlayerTimer, 0, len(fields))
	for _, raw := range fields {
		var p model.PlayerTimer
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode player timer: %w", err)
		}
		players = append(players, &p)
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].TurnOrder < players[j].TurnOrder })
	return players, nil
}
