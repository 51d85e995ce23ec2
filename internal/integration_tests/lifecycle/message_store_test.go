//go:build integration

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/lifecycle"
	"aegis/internal/lifecycle/parser"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/testutil/containers"
)

func newMessage(counterpartyID domain.CounterpartyID, correlationKey string) lifecycle.Message {
	now := time.Now().UTC()
	return lifecycle.Message{
		ID:               domain.NewMessageID(),
		UserID:           domain.NewUserID(),
		CounterpartyID:   counterpartyID,
		Direction:        lifecycle.DirectionOutbound,
		CorrelationKey:   correlationKey,
		StrategyUsed:     domain.StrategyFeeChallenge,
		Status:           lifecycle.StatusPendingApproval,
		RecipientAddress: "complaints@creditor.example",
		Subject:          "Fee dispute",
		BodyContent:      "Please justify the late fee.",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// The compare-and-swap in TransitionStatus is a conditional UPDATE; the
// exactly-one-winner property has to hold against a real database under
// concurrent connections.
func TestPostgresMessageStore_ConcurrentTransition(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := lifecycle.NewPostgresMessageStore(pc.DB)
	ctx := context.Background()

	msg := newMessage(domain.NewCounterpartyID(), "cas-test-1")
	require.NoError(t, store.Create(ctx, msg))

	const callers = 10
	wins := make([]bool, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			won, err := store.TransitionStatus(ctx, msg.ID,
				lifecycle.StatusPendingApproval, lifecycle.StatusApproved, time.Now().UTC())
			if err != nil {
				t.Errorf("transition error: %v", err)
				return
			}
			wins[i] = won
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusApproved, stored.Status)
}

func TestPostgresMessageStore_SentStampAndCorrelation(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := lifecycle.NewPostgresMessageStore(pc.DB)
	ctx := context.Background()
	counterpartyID := domain.NewCounterpartyID()

	msg := newMessage(counterpartyID, "corr-key-1")
	require.NoError(t, store.Create(ctx, msg))

	won, err := store.TransitionStatus(ctx, msg.ID, lifecycle.StatusPendingApproval, lifecycle.StatusApproved, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
	won, err = store.TransitionStatus(ctx, msg.ID, lifecycle.StatusApproved, lifecycle.StatusSent, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	stored, err := store.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SentAt, "sent_at stamped on the sent transition")

	found, ok, err := store.FindByCorrelationKey(ctx, "corr-key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.ID, found.ID)

	latest, ok, err := store.LatestSentForCounterparty(ctx, counterpartyID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.ID, latest.ID)

	// Correlation keys are unique; a colliding insert is a conflict.
	dup := newMessage(counterpartyID, "corr-key-1")
	err = store.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestPostgresMessageStore_MarkResponded(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := lifecycle.NewPostgresMessageStore(pc.DB)
	ctx := context.Background()

	msg := newMessage(domain.NewCounterpartyID(), "corr-key-2")
	require.NoError(t, store.Create(ctx, msg))
	mustTransition(t, store, msg.ID, lifecycle.StatusPendingApproval, lifecycle.StatusApproved)
	mustTransition(t, store, msg.ID, lifecycle.StatusApproved, lifecycle.StatusSent)

	result := parser.Result{
		AdmissionCount: 2,
		Sentiment:      parser.SentimentNeutral,
		AdmissionText:  "we acknowledge the fee was incorrect",
	}
	won, err := store.MarkResponded(ctx, msg.ID, result, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	stored, err := store.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusResponded, stored.Status)
	require.NotNil(t, stored.RespondedAt)
	require.NotNil(t, stored.ParsingResult, "parsing result round-trips through jsonb")
	assert.Equal(t, 2, stored.ParsingResult.AdmissionCount)
	assert.Equal(t, parser.SentimentNeutral, stored.ParsingResult.Sentiment)

	// responded is terminal; a second response attempt loses the swap.
	won, err = store.MarkResponded(ctx, msg.ID, result, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestPostgresAuthorizationStore_FindActive(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := lifecycle.NewPostgresAuthorizationStore(pc.DB)
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	now := time.Now().UTC()

	// A grant with no counterparty covers every counterparty.
	require.NoError(t, store.Create(ctx, lifecycle.Authorization{
		ID:            domain.NewGrantID(),
		UserID:        userID,
		Scope:         []string{"correspond"},
		PlatformAlias: "u-abc123",
		ValidUntil:    now.Add(time.Hour),
		Active:        true,
		CreatedAt:     now,
	}))

	auth, found, err := store.FindActive(ctx, userID, counterpartyID, now)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, auth.CounterpartyID.IsZero())
	assert.Equal(t, []string{"correspond"}, auth.Scope)

	_, found, err = store.FindActive(ctx, domain.NewUserID(), counterpartyID, now)
	require.NoError(t, err)
	assert.False(t, found, "another user has no grant")

	_, found, err = store.FindActive(ctx, userID, counterpartyID, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, found, "expired grant does not cover")
}

func mustTransition(t *testing.T, store *lifecycle.PostgresMessageStore, id domain.MessageID, from, to lifecycle.Status) {
	t.Helper()
	won, err := store.TransitionStatus(context.Background(), id, from, to, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
}
