package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

// MemoryStore holds encoded states in process memory. States are stored as
// JSON so a caller mutating its copy never changes the saved one.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &MemoryStore{cache: cache.New(ttl, cleanup)}
}

func (s *MemoryStore) Save(_ context.Context, state *domain.RetrievalState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	s.cache.Set(state.Session.SessionID, raw, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*domain.RetrievalState, error) {
	x, found := s.cache.Get(sessionID)
	if !found {
		return nil, notFound(sessionID)
	}
	return decodeState(x.([]byte))
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	return nil
}

// Len reports the number of unexpired sessions.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
