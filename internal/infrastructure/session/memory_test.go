package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

func pausedState(id string) *domain.RetrievalState {
	return &domain.RetrievalState{
		Session: domain.QuerySession{SessionID: id, Query: "contracts with ACME", ScopeID: 7},
		Query:   "contracts with ACME",
		Refinement: &domain.RefinementOutput{
			MissingFields:    []string{"signed_date", "amount"},
			AmbiguityMessage: "Please specify the signing date and amount.",
		},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	state := pausedState("s-1")
	require.NoError(t, store.Save(ctx, state))

	state.Query = "mutated after save"

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "contracts with ACME", loaded.Query)
	require.Equal(t, []string{"signed_date", "amount"}, loaded.Refinement.MissingFields)
	require.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err = store.Load(ctx, "s-1")
	require.True(t, domain.IsKind(err, domain.ErrSessionNotFound))
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	require.NoError(t, store.Save(context.Background(), pausedState("s-2")))

	require.Eventually(t, func() bool {
		_, err := store.Load(context.Background(), "s-2")
		return domain.IsKind(err, domain.ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreRejectsMissingID(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	err := store.Save(context.Background(), &domain.RetrievalState{})
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}
