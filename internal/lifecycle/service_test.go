package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/audit"
	"aegis/internal/evidence"
	"aegis/internal/learning"
	"aegis/internal/mailer"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

type fakeAdvisor struct {
	rec   learning.Recommendation
	err   error
	intel learning.Intelligence
}

func (f *fakeAdvisor) GetOptimalStrategy(context.Context, domain.CounterpartyID) (learning.Recommendation, error) {
	return f.rec, f.err
}

func (f *fakeAdvisor) GetIntelligence(context.Context, domain.CounterpartyID) (learning.Intelligence, error) {
	return f.intel, nil
}

type captureAnchors struct {
	mu   sync.Mutex
	reqs []evidence.AnchorRequest
}

func (c *captureAnchors) Enqueue(req evidence.AnchorRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureAnchors) all() []evidence.AnchorRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]evidence.AnchorRequest(nil), c.reqs...)
}

type captureOutcomes struct {
	mu     sync.Mutex
	events []learning.Event
}

func (c *captureOutcomes) Enqueue(event learning.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOutcomes) all() []learning.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]learning.Event(nil), c.events...)
}

type fixture struct {
	service   *Service
	advisor   *fakeAdvisor
	transport *mailer.MemoryTransport
	anchors   *captureAnchors
	outcomes  *captureOutcomes
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		advisor: &fakeAdvisor{
			rec: learning.Recommendation{
				Strategy:            domain.StrategyFeeChallenge,
				ExpectedSuccessRate: 0.6,
				SampleCount:         20,
			},
		},
		transport: &mailer.MemoryTransport{},
		anchors:   &captureAnchors{},
		outcomes:  &captureOutcomes{},
	}
	f.service = NewService(
		NewInMemoryAuthorizationStore(),
		NewInMemoryMessageStore(),
		NewInMemoryInboundStore(),
		f.advisor,
		f.transport,
		f.anchors,
		f.outcomes,
		"correspondence@aegis.local",
		"Aegis Correspondence",
		"aegis.local",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
		opts...,
	)
	return f
}

func (f *fixture) authorize(t *testing.T, userID domain.UserID, counterpartyID domain.CounterpartyID) Authorization {
	t.Helper()
	auth, err := f.service.Authorize(context.Background(), userID, counterpartyID, []string{"correspond"}, 0)
	require.NoError(t, err)
	return auth
}

func (f *fixture) draft(t *testing.T, userID domain.UserID, counterpartyID domain.CounterpartyID) Message {
	t.Helper()
	msg, _, err := f.service.Draft(context.Background(), userID, counterpartyID, DraftRequest{
		RecipientAddress: "complaints@creditor.example",
		Subject:          "Fee dispute",
		Body:             "Please justify the late fee applied in March.",
	})
	require.NoError(t, err)
	return msg
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := domain.NewUserID()

	t.Run("empty scope rejected", func(t *testing.T) {
		_, err := f.service.Authorize(ctx, userID, domain.NewCounterpartyID(), nil, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidScope))
	})

	t.Run("grant returns alias", func(t *testing.T) {
		auth, err := f.service.Authorize(ctx, userID, domain.NewCounterpartyID(), []string{"correspond"}, time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, auth.PlatformAlias)
		assert.True(t, auth.Active)
		assert.True(t, auth.ValidUntil.After(time.Now()))
	})

	t.Run("reissuing is allowed", func(t *testing.T) {
		counterpartyID := domain.NewCounterpartyID()
		first := f.authorize(t, userID, counterpartyID)
		second := f.authorize(t, userID, counterpartyID)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("scope is trimmed and deduped", func(t *testing.T) {
		auth, err := f.service.Authorize(ctx, userID, domain.NewCounterpartyID(),
			[]string{" correspond ", "correspond", "", "dispute"}, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []string{"correspond", "dispute"}, auth.Scope)
	})

	t.Run("scope of blanks rejected", func(t *testing.T) {
		_, err := f.service.Authorize(ctx, userID, domain.NewCounterpartyID(), []string{"  ", ""}, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidScope))
	})
}

func TestDraft(t *testing.T) {
	f := newFixture(t)
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()

	t.Run("requires active authorization", func(t *testing.T) {
		_, _, err := f.service.Draft(context.Background(), userID, counterpartyID, DraftRequest{Body: "x"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	f.authorize(t, userID, counterpartyID)

	t.Run("uses advised strategy", func(t *testing.T) {
		msg := f.draft(t, userID, counterpartyID)
		assert.Equal(t, StatusPendingApproval, msg.Status)
		assert.Equal(t, domain.StrategyFeeChallenge, msg.StrategyUsed)
		assert.NotEmpty(t, msg.CorrelationKey)
	})

	t.Run("advisor failure falls back to default", func(t *testing.T) {
		f.advisor.err = errors.New("cache down")
		defer func() { f.advisor.err = nil }()

		msg, rec, err := f.service.Draft(context.Background(), userID, counterpartyID, DraftRequest{
			RecipientAddress: "complaints@creditor.example",
			Body:             "body",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StrategyDefault, msg.StrategyUsed)
		assert.True(t, rec.Unvalidated)
	})
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)

	t.Run("only the owner approves", func(t *testing.T) {
		msg := f.draft(t, userID, counterpartyID)
		_, err := f.service.Approve(context.Background(), msg.ID, domain.NewUserID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner))
	})

	t.Run("approval sends and anchors", func(t *testing.T) {
		msg := f.draft(t, userID, counterpartyID)
		before := len(f.anchors.all())

		approved, err := f.service.Approve(context.Background(), msg.ID, userID)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, approved.Status)
		require.NotNil(t, approved.SentAt)

		require.NotEmpty(t, f.transport.Sent)
		mail := f.transport.Sent[len(f.transport.Sent)-1]
		assert.Equal(t, "complaints@creditor.example", mail.To)
		assert.Equal(t, "case+"+msg.CorrelationKey+"@aegis.local", mail.ReplyTo)
		assert.Equal(t, msg.CorrelationKey, mail.Headers["X-Case-Token"])

		anchors := f.anchors.all()
		require.Len(t, anchors, before+1)
		assert.Equal(t, evidence.DocumentTypeOutbound, anchors[len(anchors)-1].Doc.Type)
	})

	t.Run("second approval is an invalid transition", func(t *testing.T) {
		msg := f.draft(t, userID, counterpartyID)
		_, err := f.service.Approve(context.Background(), msg.ID, userID)
		require.NoError(t, err)

		_, err = f.service.Approve(context.Background(), msg.ID, userID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

// Two concurrent approvals of the same message: exactly one wins, the loser
// gets InvalidTransition, and the transport sends exactly once.
func TestApprove_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	msg := f.draft(t, userID, counterpartyID)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.service.Approve(context.Background(), msg.ID, userID)
		}(i)
	}
	close(start)
	wg.Wait()

	wins, invalid := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case dErrors.HasCode(err, dErrors.CodeInvalidTransition):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, invalid)
	assert.Len(t, f.transport.Sent, 1)
}

func TestDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	msg := f.draft(t, userID, counterpartyID)

	f.transport.FailNext = true
	_, err := f.service.Approve(context.Background(), msg.ID, userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDeliveryFailed))

	// The message is terminal failed; no automatic retry happens.
	stored, err := f.service.GetMessage(context.Background(), msg.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Empty(t, f.transport.Sent)

	_, err = f.service.Approve(context.Background(), msg.ID, userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestConfirmDelivery(t *testing.T) {
	f := newFixture(t)
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	msg := f.draft(t, userID, counterpartyID)
	_, err := f.service.Approve(context.Background(), msg.ID, userID)
	require.NoError(t, err)

	require.NoError(t, f.service.ConfirmDelivery(context.Background(), msg.ID))

	stored, err := f.service.GetMessage(context.Background(), msg.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, stored.Status)
}

func sendMessage(t *testing.T, f *fixture, userID domain.UserID, counterpartyID domain.CounterpartyID) Message {
	t.Helper()
	msg := f.draft(t, userID, counterpartyID)
	sent, err := f.service.Approve(context.Background(), msg.ID, userID)
	require.NoError(t, err)
	return sent
}

func TestIngestInbound_TokenCorrelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	sent := sendMessage(t, f, userID, counterpartyID)
	anchorsBefore := len(f.anchors.all())

	rec, err := f.service.IngestInbound(ctx, InboundEmail{
		From:    "complaints@creditor.example",
		To:      "case+" + sent.CorrelationKey + "@aegis.local",
		Subject: "Re: Fee dispute",
		Body:    "We acknowledge the fee was incorrect and will refund it.",
	})
	require.NoError(t, err)
	assert.Equal(t, "token", rec.CorrelationMethod)
	assert.Equal(t, sent.ID, rec.CorrelatedMessageID)
	assert.False(t, rec.RequiresHumanReview)

	// The original moved to responded with the parsing result attached.
	original, err := f.service.GetMessage(ctx, sent.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, StatusResponded, original.Status)
	require.NotNil(t, original.ParsingResult)
	assert.Greater(t, original.ParsingResult.AdmissionCount, 0)
	require.NotNil(t, original.RespondedAt)

	// Both sides of the exchange were queued for anchoring.
	anchors := f.anchors.all()[anchorsBefore:]
	require.Len(t, anchors, 2)
	assert.Equal(t, evidence.DocumentTypeOutbound, anchors[0].Doc.Type)
	assert.Equal(t, evidence.DocumentTypeInboundResponse, anchors[1].Doc.Type)

	// The outcome event reflects the admission.
	events := f.outcomes.all()
	require.Len(t, events, 1)
	assert.Equal(t, counterpartyID, events[0].CounterpartyID)
	assert.Equal(t, sent.StrategyUsed, events[0].Strategy)
	assert.True(t, events[0].OutcomeSuccess)
	assert.NotEmpty(t, events[0].AdmissionText)
}

func TestIngestInbound_HeuristicIsFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	sent := sendMessage(t, f, userID, counterpartyID)

	rec, err := f.service.IngestInbound(ctx, InboundEmail{
		From:           "complaints@creditor.example",
		To:             "correspondence@aegis.local",
		Body:           "We acknowledge the mistake occurred.",
		CounterpartyID: counterpartyID,
	})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", rec.CorrelationMethod)
	assert.Equal(t, sent.ID, rec.CorrelatedMessageID)
	assert.True(t, rec.RequiresHumanReview, "heuristic matches always go to a human")
}

func TestIngestInbound_UncorrelatedIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.IngestInbound(ctx, InboundEmail{
		From: "unknown@creditor.example",
		To:   "correspondence@aegis.local",
		Body: "Who is this regarding?",
	})
	require.NoError(t, err)
	assert.Equal(t, "none", rec.CorrelationMethod)
	assert.True(t, rec.RequiresHumanReview)
	assert.True(t, rec.CorrelatedMessageID.IsZero())
	assert.Empty(t, f.outcomes.all(), "no outcome without a correlated message")

	queue, err := f.service.ReviewQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, rec.ID, queue[0].ID)
}

func TestIngestInbound_ThreatIsNotSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	sent := sendMessage(t, f, userID, counterpartyID)

	_, err := f.service.IngestInbound(ctx, InboundEmail{
		From: "complaints@creditor.example",
		To:   "case+" + sent.CorrelationKey + "@aegis.local",
		Body: "We acknowledge receipt, but our attorneys will pursue legal action.",
	})
	require.NoError(t, err)

	events := f.outcomes.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].OutcomeSuccess)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)

	sendMessage(t, f, userID, counterpartyID)
	f.draft(t, userID, counterpartyID) // stays pending

	f.advisor.intel = learning.Intelligence{
		CounterpartyID:   counterpartyID,
		TotalEvents:      12,
		SuccessfulEvents: 6,
		EvidenceStrength: learning.StrengthModerate,
	}

	summary, err := f.service.Summary(ctx, counterpartyID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StatusCounts[StatusSent])
	assert.Equal(t, 1, summary.StatusCounts[StatusPendingApproval])
	assert.Equal(t, learning.StrengthModerate, summary.Intelligence.EvidenceStrength)
}

func TestDeliver_ArchiveCC(t *testing.T) {
	f := newFixture(t, WithArchiveAddress("records@aegis.local"))
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)

	sendMessage(t, f, userID, counterpartyID)

	require.Len(t, f.transport.Sent, 1)
	assert.Equal(t, []string{"records@aegis.local"}, f.transport.Sent[0].Cc)
}

func TestAuditTrail(t *testing.T) {
	store := audit.NewInMemoryStore()
	trail := audit.NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f := newFixture(t, WithAuditTrail(trail))
	ctx := context.Background()
	userID := domain.NewUserID()
	counterpartyID := domain.NewCounterpartyID()
	f.authorize(t, userID, counterpartyID)
	sent := sendMessage(t, f, userID, counterpartyID)

	_, err := f.service.IngestInbound(ctx, InboundEmail{
		From: "complaints@creditor.example",
		To:   "case+" + sent.CorrelationKey + "@aegis.local",
		Body: "We acknowledge the error.",
	})
	require.NoError(t, err)

	events, err := store.ListByUser(ctx, userID)
	require.NoError(t, err)

	actions := make([]string, len(events))
	for i, e := range events {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{
		audit.ActionAuthorizationGranted,
		audit.ActionMessageDrafted,
		audit.ActionMessageApproved,
		audit.ActionMessageSent,
		audit.ActionInboundReceived,
	}, actions)

	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}
