package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeviceState is the persisted alarm state of one device
type DeviceState struct {
	Serial    string              `json:"serial"`
	Alerts    map[Metric]*Machine `json:"alerts"`
	Occupancy Calibration         `json:"occupancy"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (s *DeviceState) clone() DeviceState {
	out := *s
	out.Alerts = make(map[Metric]*Machine, len(s.Alerts))
	for k, m := range s.Alerts {
		cp := *m
		out.Alerts[k] = &cp
	}
	return out
}

// StateStore persists device state between restarts
type StateStore interface {
	// Load returns nil, nil when no state exists
	Load(ctx context.Context, serial string) (*DeviceState, error)
	Save(ctx context.Context, state *DeviceState) error
	Delete(ctx context.Context, serial string) error
}

const stateTTL = 30 * 24 * time.Hour

// RedisStore keeps device state in Redis under alarm_state:{serial}
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a new Redis backed store
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func stateKey(serial string) string {
	return fmt.Sprintf("alarm_state:%s", serial)
}

// Load retrieves the stored state for a device
func (s *RedisStore) Load(ctx context.Context, serial string) (*DeviceState, error) {
	data, err := s.redis.Get(ctx, stateKey(serial)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state DeviceState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Save writes the state, refreshing its expiry so stale devices age out
func (s *RedisStore) Save(ctx context.Context, state *DeviceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redis.Set(ctx, stateKey(state.Serial), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// Delete removes the stored state
func (s *RedisStore) Delete(ctx context.Context, serial string) error {
	return s.redis.Del(ctx, stateKey(serial)).Err()
}

// MemoryStore is a process-local StateStore
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]DeviceState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]DeviceState)}
}

func (s *MemoryStore) Load(_ context.Context, serial string) (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[serial]
	if !ok {
		return nil, nil
	}
	out := state.clone()
	return &out, nil
}

func (s *MemoryStore) Save(_ context.Context, state *DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.Serial] = state.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, serial)
	return nil
}
