// Package session keeps paused retrieval states between clarification turns.
package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

const defaultKeyPrefix = "aqa:session:"

func encodeState(state *domain.RetrievalState) ([]byte, error) {
	if state == nil || strings.TrimSpace(state.Session.SessionID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "save session", fmt.Errorf("session id is required"))
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (*domain.RetrievalState, error) {
	var state domain.RetrievalState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &state, nil
}

func notFound(sessionID string) error {
	return domain.WrapError(domain.ErrSessionNotFound, "load session", fmt.Errorf("id %q", sessionID))
}
