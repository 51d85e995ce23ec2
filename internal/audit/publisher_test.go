package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
)

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("disk full") }
func (failingStore) ListByUser(context.Context, domain.UserID) ([]Event, error) {
	return nil, nil
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	userID := domain.NewUserID()
	pub.Record(context.Background(), Event{
		UserID: userID,
		Action: ActionMessageDrafted,
		Detail: "fee_challenge",
	})

	events, err := pub.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, ActionMessageDrafted, events[0].Action)
}

func TestRecord_PreservesCallerTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	userID := domain.NewUserID()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pub.Record(context.Background(), Event{
		UserID:    userID,
		Action:    ActionMessageSent,
		Timestamp: at,
	})

	events, err := pub.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
}

func TestRecord_StoreFailureDoesNotPropagate(t *testing.T) {
	pub := NewPublisher(failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Must not panic or surface the error.
	pub.Record(context.Background(), Event{Action: ActionMessageFailed})
}

func TestRecord_NilPublisherIsNoop(t *testing.T) {
	var pub *Publisher
	pub.Record(context.Background(), Event{Action: ActionMessageApproved})
}

func TestListByUser_FiltersToOwner(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	alice := domain.NewUserID()
	bob := domain.NewUserID()
	pub.Record(context.Background(), Event{UserID: alice, Action: ActionAuthorizationGranted})
	pub.Record(context.Background(), Event{UserID: bob, Action: ActionAuthorizationGranted})
	pub.Record(context.Background(), Event{UserID: alice, Action: ActionMessageDrafted})

	events, err := pub.ListByUser(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionAuthorizationGranted, events[0].Action)
	assert.Equal(t, ActionMessageDrafted, events[1].Action)
}
