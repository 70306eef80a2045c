package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/redis"
)

// Define static errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNilState        = errors.New("state is nil")
)

// DefaultTTL is how long an idle session survives in Redis
const DefaultTTL = 24 * time.Hour

// StoreInterface persists session state
type StoreInterface interface {
	// Create allocates a new empty session
	Create(ctx context.Context) (*State, error)
	// Get loads a session by ID, returning ErrSessionNotFound if absent
	Get(ctx context.Context, id string) (*State, error)
	// Put writes a session snapshot, bumping its revision
	Put(ctx context.Context, state *State) error
	// Delete removes a session
	Delete(ctx context.Context, id string) error
	// Graph returns the shared pipeline stage graph
	Graph() *StageGraph
}

type store struct {
	log    logrus.FieldLogger
	client *goredis.Client
	cfg    *redis.Config
	ttl    time.Duration
	graph  *StageGraph
	now    func() time.Time
}

// NewStore creates a Redis-backed session store
func NewStore(logger logrus.FieldLogger, client *goredis.Client, cfg *redis.Config, ttl time.Duration) (StoreInterface, error) {
	graph, err := NewStageGraph()
	if err != nil {
		return nil, fmt.Errorf("failed to build stage graph: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &store{
		log:    logger.WithField("service", "session"),
		client: client,
		cfg:    cfg,
		ttl:    ttl,
		graph:  graph,
		now:    time.Now,
	}, nil
}

// Graph returns the shared pipeline stage graph
func (s *store) Graph() *StageGraph {
	return s.graph
}

func (s *store) key(id string) string {
	return s.cfg.PrefixKey(fmt.Sprintf("session:%s", id))
}

func (s *store) Create(ctx context.Context) (*State, error) {
	now := s.now().UTC()
	state := &State{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	}

	if err := s.write(ctx, state); err != nil {
		return nil, err
	}

	s.log.WithField("session_id", state.ID).Info("Created session")

	return state, nil
}

func (s *store) Get(ctx context.Context, id string) (*State, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	return &state, nil
}

func (s *store) Put(ctx context.Context, state *State) error {
	if state == nil {
		return ErrNilState
	}

	// Refuse blind writes for sessions that no longer exist
	if _, err := s.Get(ctx, state.ID); err != nil {
		return err
	}

	state.Revision++
	state.UpdatedAt = s.now().UTC()

	return s.write(ctx, state)
}

func (s *store) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.log.WithField("session_id", id).Info("Deleted session")

	return nil
}

func (s *store) write(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.ID, err)
	}

	if err := s.client.Set(ctx, s.key(state.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", state.ID, err)
	}

	return nil
}
