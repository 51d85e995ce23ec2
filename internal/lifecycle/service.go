package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aegis/internal/audit"
	"aegis/internal/evidence"
	"aegis/internal/learning"
	"aegis/internal/lifecycle/metrics"
	"aegis/internal/lifecycle/parser"
	"aegis/internal/mailer"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// StrategyAdvisor is the slice of the learning engine the lifecycle
// consults. It must never fail on cold start; callers rely on always
// getting a recommendation back.
type StrategyAdvisor interface {
	GetOptimalStrategy(ctx context.Context, counterpartyID domain.CounterpartyID) (learning.Recommendation, error)
	GetIntelligence(ctx context.Context, counterpartyID domain.CounterpartyID) (learning.Intelligence, error)
}

// AnchorQueue accepts evidence anchoring requests without blocking on the
// ledger.
type AnchorQueue interface {
	Enqueue(req evidence.AnchorRequest) error
}

// OutcomeQueue accepts learning events without blocking on recomputation.
type OutcomeQueue interface {
	Enqueue(event learning.Event) error
}

// DefaultGrantTTL is how long an authorization stays valid when the grant
// request does not say otherwise.
const DefaultGrantTTL = 365 * 24 * time.Hour

// Service orchestrates the correspondence lifecycle.
type Service struct {
	auths     AuthorizationStore
	messages  MessageStore
	inbound   InboundStore
	advisor   StrategyAdvisor
	transport mailer.Transport
	anchors   AnchorQueue
	outcomes  OutcomeQueue
	parser    parser.Parser
	trail     *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	fromAddress    string
	fromName       string
	replyDomain    string
	archiveAddress string

	clock func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithParser swaps the inbound classifier.
func WithParser(p parser.Parser) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithArchiveAddress CCs every outbound message to the operator's archive
// mailbox.
func WithArchiveAddress(addr string) ServiceOption {
	return func(s *Service) {
		s.archiveAddress = addr
	}
}

// WithAuditTrail attaches an audit trail. Recording is best-effort and a
// nil publisher is a no-op, so the service never depends on it.
func WithAuditTrail(p *audit.Publisher) ServiceOption {
	return func(s *Service) {
		s.trail = p
	}
}

func NewService(
	auths AuthorizationStore,
	messages MessageStore,
	inbound InboundStore,
	advisor StrategyAdvisor,
	transport mailer.Transport,
	anchors AnchorQueue,
	outcomes OutcomeQueue,
	fromAddress, fromName, replyDomain string,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		auths:       auths,
		messages:    messages,
		inbound:     inbound,
		advisor:     advisor,
		transport:   transport,
		anchors:     anchors,
		outcomes:    outcomes,
		parser:      parser.NewHeuristic(),
		logger:      logger,
		metrics:     m,
		fromAddress: fromAddress,
		fromName:    fromName,
		replyDomain: replyDomain,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Authorize records a user's grant to correspond with a counterparty. A
// zero counterparty ID grants all counterparties. Reissuing over an
// existing grant is allowed; grants are never mutated in place.
func (s *Service) Authorize(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, scope []string, ttl time.Duration) (Authorization, error) {
	if userID.IsZero() {
		return Authorization{}, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	scope = normalizeScope(scope)
	if len(scope) == 0 {
		return Authorization{}, dErrors.New(dErrors.CodeInvalidScope, "scope cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}

	now := s.clock().UTC()
	auth := Authorization{
		ID:             domain.NewGrantID(),
		UserID:         userID,
		CounterpartyID: counterpartyID,
		Scope:          scope,
		PlatformAlias:  newPlatformAlias(),
		ValidUntil:     now.Add(ttl),
		Active:         true,
		CreatedAt:      now,
	}
	if err := s.auths.Create(ctx, auth); err != nil {
		return Authorization{}, err
	}

	s.trail.Record(ctx, audit.Event{
		UserID:         userID,
		Action:         audit.ActionAuthorizationGranted,
		CounterpartyID: counterpartyID,
		Detail:         auth.PlatformAlias,
	})
	s.logger.InfoContext(ctx, "authorization granted",
		"grant_id", auth.ID.String(),
		"user_id", userID.String(),
		"alias", auth.PlatformAlias,
	)
	return auth, nil
}

// normalizeScope trims and dedupes scope entries, preserving first-seen
// order. Callers comparing grants rely on the stored form being canonical.
func normalizeScope(scope []string) []string {
	seen := make(map[string]struct{}, len(scope))
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// newPlatformAlias generates a stable outbound identifier that does not
// reveal the user's real identity.
func newPlatformAlias() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "u-" + hex.EncodeToString(buf)
}

// DraftRequest carries the caller-supplied parts of a new message.
type DraftRequest struct {
	RecipientAddress string
	Subject          string
	Body             string
}

// Draft creates a message in pending_approval, using the learning engine's
// current best strategy for the counterparty. With insufficient history the
// engine's unvalidated default is used; drafting never fails on cold start.
func (s *Service) Draft(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, req DraftRequest) (Message, learning.Recommendation, error) {
	now := s.clock().UTC()

	_, covered, err := s.auths.FindActive(ctx, userID, counterpartyID, now)
	if err != nil {
		return Message{}, learning.Recommendation{}, err
	}
	if !covered {
		return Message{}, learning.Recommendation{}, dErrors.New(dErrors.CodeNotAuthorized,
			"no active authorization covers this counterparty")
	}

	rec, err := s.advisor.GetOptimalStrategy(ctx, counterpartyID)
	if err != nil {
		s.logger.WarnContext(ctx, "strategy lookup failed, using default",
			"counterparty_id", counterpartyID.String(), "error", err)
		rec = learning.DefaultRecommendation()
	}

	msg := Message{
		ID:               domain.NewMessageID(),
		UserID:           userID,
		CounterpartyID:   counterpartyID,
		Direction:        DirectionOutbound,
		CorrelationKey:   newCorrelationToken(),
		StrategyUsed:     rec.Strategy,
		Status:           StatusPendingApproval,
		RecipientAddress: req.RecipientAddress,
		Subject:          req.Subject,
		BodyContent:      req.Body,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return Message{}, learning.Recommendation{}, err
	}

	s.metrics.ObserveDraft(string(rec.Strategy))
	s.trail.Record(ctx, audit.Event{
		UserID:         userID,
		Action:         audit.ActionMessageDrafted,
		MessageID:      msg.ID,
		CounterpartyID: counterpartyID,
		Detail:         string(rec.Strategy),
	})
	s.logger.InfoContext(ctx, "message drafted",
		"message_id", msg.ID.String(),
		"counterparty_id", counterpartyID.String(),
		"strategy", string(rec.Strategy),
		"unvalidated", rec.Unvalidated,
	)
	return msg, rec, nil
}

// newCorrelationToken generates the token embedded in the outbound reply-to
// address so an inbound reply correlates exactly, not heuristically.
func newCorrelationToken() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Approve moves a message from pending_approval to approved and hands it to
// delivery. Exactly one of two concurrent approvals wins; the loser gets
// InvalidTransition.
func (s *Service) Approve(ctx context.Context, messageID domain.MessageID, userID domain.UserID) (Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.UserID != userID {
		return Message{}, dErrors.New(dErrors.CodeNotOwner, "message belongs to another user")
	}

	won, err := s.messages.TransitionStatus(ctx, messageID, StatusPendingApproval, StatusApproved, s.clock().UTC())
	if err != nil {
		return Message{}, err
	}
	s.metrics.ObserveTransition(string(StatusApproved), won)
	if !won {
		return Message{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("message is not pending approval (status %s)", msg.Status))
	}
	msg.Status = StatusApproved

	s.trail.Record(ctx, audit.Event{
		UserID:         userID,
		Action:         audit.ActionMessageApproved,
		MessageID:      msg.ID,
		CounterpartyID: msg.CounterpartyID,
	})
	return s.deliver(ctx, msg)
}

// deliver hands an approved message to the transport. A transport failure
// makes the message failed with no automatic retry: a legally significant
// send is an operator decision, never a retry loop. An in-flight send is
// never cancelled once handed off.
func (s *Service) deliver(ctx context.Context, msg Message) (Message, error) {
	replyTo := fmt.Sprintf("case+%s@%s", msg.CorrelationKey, s.replyDomain)
	mail := mailer.OutboundMail{
		From:     s.fromAddress,
		FromName: s.fromName,
		To:       msg.RecipientAddress,
		ReplyTo:  replyTo,
		Subject:  msg.Subject,
		BodyText: msg.BodyContent,
		Headers:  map[string]string{"X-Case-Token": msg.CorrelationKey},
	}
	if s.archiveAddress != "" {
		mail.Cc = []string{s.archiveAddress}
	}

	receipt, sendErr := s.transport.Send(context.WithoutCancel(ctx), mail)
	now := s.clock().UTC()

	if sendErr != nil {
		s.metrics.ObserveDelivery("failed")
		if _, err := s.messages.TransitionStatus(ctx, msg.ID, StatusApproved, StatusFailed, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to record delivery failure",
				"message_id", msg.ID.String(), "error", err)
		}
		s.trail.Record(ctx, audit.Event{
			UserID:         msg.UserID,
			Action:         audit.ActionMessageFailed,
			MessageID:      msg.ID,
			CounterpartyID: msg.CounterpartyID,
			Detail:         sendErr.Error(),
		})
		s.logger.ErrorContext(ctx, "delivery failed, manual retry required",
			"message_id", msg.ID.String(),
			"recipient", msg.RecipientAddress,
			"error", sendErr,
		)
		return Message{}, dErrors.Wrap(dErrors.CodeDeliveryFailed, "transport rejected message", sendErr)
	}

	won, err := s.messages.TransitionStatus(ctx, msg.ID, StatusApproved, StatusSent, now)
	if err != nil {
		return Message{}, err
	}
	s.metrics.ObserveTransition(string(StatusSent), won)
	s.metrics.ObserveDelivery("sent")

	msg.Status = StatusSent
	sentAt := now
	msg.SentAt = &sentAt

	s.enqueueAnchor(ctx, evidence.AnchorRequest{Doc: outboundDocument(msg)})

	s.trail.Record(ctx, audit.Event{
		UserID:         msg.UserID,
		Action:         audit.ActionMessageSent,
		MessageID:      msg.ID,
		CounterpartyID: msg.CounterpartyID,
		Detail:         receipt.ProviderMessageID,
	})
	s.logger.InfoContext(ctx, "message sent",
		"message_id", msg.ID.String(),
		"provider_message_id", receipt.ProviderMessageID,
	)
	return msg, nil
}

// ConfirmDelivery records transport-level delivery confirmation.
func (s *Service) ConfirmDelivery(ctx context.Context, messageID domain.MessageID) error {
	won, err := s.messages.TransitionStatus(ctx, messageID, StatusSent, StatusDelivered, s.clock().UTC())
	if err != nil {
		return err
	}
	s.metrics.ObserveTransition(string(StatusDelivered), won)
	if !won {
		// The response may already have arrived; that is not an error.
		s.logger.InfoContext(ctx, "delivery confirmation ignored, message moved on",
			"message_id", messageID.String())
		return nil
	}
	s.trail.Record(ctx, audit.Event{
		Action:    audit.ActionMessageDelivered,
		MessageID: messageID,
	})
	return nil
}

// InboundEmail is the raw webhook payload from the mail provider.
type InboundEmail struct {
	From    string
	To      string
	Subject string
	Body    string
	// CounterpartyID is set when the provider route identifies the sender;
	// it enables the fallback heuristic when no token is present.
	CounterpartyID domain.CounterpartyID
}

// IngestInbound correlates a received message to the outbound one it
// answers, parses it, and feeds the outcome back to the learning engine.
// An uncorrelated inbound message is recorded and flagged for manual
// review; it is never an error.
func (s *Service) IngestInbound(ctx context.Context, raw InboundEmail) (InboundRecord, error) {
	now := s.clock().UTC()

	original, method := s.correlate(ctx, raw)
	rec := InboundRecord{
		ID:                domain.NewMessageID(),
		CounterpartyID:    raw.CounterpartyID,
		FromAddress:       raw.From,
		Subject:           raw.Subject,
		BodyContent:       raw.Body,
		CorrelationMethod: method,
		ReceivedAt:        now,
	}

	if method == "none" {
		rec.RequiresHumanReview = true
		s.metrics.ObserveInbound(method, true)
		if err := s.inbound.Create(ctx, rec); err != nil {
			return InboundRecord{}, err
		}
		s.logger.InfoContext(ctx, "inbound message uncorrelated, queued for review",
			"inbound_id", rec.ID.String(), "from", raw.From)
		return rec, nil
	}

	result := s.parser.Parse(raw.Body)
	rec.ParsingResult = &result
	rec.CorrelatedMessageID = original.ID
	rec.CounterpartyID = original.CounterpartyID
	// A heuristic match can misattribute under concurrent outstanding
	// requests, so it always goes to a human even when parsing is clean.
	rec.RequiresHumanReview = result.RequiresHumanReview || method == "heuristic"
	s.metrics.ObserveInbound(method, rec.RequiresHumanReview)

	if err := s.inbound.Create(ctx, rec); err != nil {
		return InboundRecord{}, err
	}

	won, err := s.messages.MarkResponded(ctx, original.ID, result, now)
	if err != nil {
		return InboundRecord{}, err
	}
	s.metrics.ObserveTransition(string(StatusResponded), won)
	if !won {
		s.logger.WarnContext(ctx, "correlated message not in a respondable state",
			"message_id", original.ID.String(), "status", string(original.Status))
	}

	s.enqueueAnchor(ctx, evidence.AnchorRequest{Doc: outboundDocument(original)})
	s.enqueueAnchor(ctx, evidence.AnchorRequest{Doc: evidence.Document{
		Type:      evidence.DocumentTypeInboundResponse,
		CaseRef:   original.ID.String(),
		Content:   raw.Body,
		CreatedAt: now,
	}})

	s.emitOutcome(ctx, original, result, now)

	s.trail.Record(ctx, audit.Event{
		UserID:         original.UserID,
		Action:         audit.ActionInboundReceived,
		MessageID:      original.ID,
		CounterpartyID: original.CounterpartyID,
		Detail:         method,
	})
	return rec, nil
}

// correlate resolves which outbound message an inbound one answers. Token
// match is authoritative; the recent-sent heuristic is a flagged fallback.
func (s *Service) correlate(ctx context.Context, raw InboundEmail) (Message, string) {
	if token := CorrelationToken(raw.To); token != "" {
		msg, found, err := s.messages.FindByCorrelationKey(ctx, token)
		if err != nil {
			s.logger.ErrorContext(ctx, "correlation lookup failed", "token", token, "error", err)
		} else if found {
			return msg, "token"
		}
	}

	if !raw.CounterpartyID.IsZero() {
		msg, found, err := s.messages.LatestSentForCounterparty(ctx, raw.CounterpartyID)
		if err != nil {
			s.logger.ErrorContext(ctx, "heuristic correlation failed",
				"counterparty_id", raw.CounterpartyID.String(), "error", err)
		} else if found {
			return msg, "heuristic"
		}
	}

	return Message{}, "none"
}

func (s *Service) emitOutcome(ctx context.Context, original Message, result parser.Result, respondedAt time.Time) {
	event := learning.Event{
		ID:             domain.NewEventID(),
		CounterpartyID: original.CounterpartyID,
		UserID:         original.UserID,
		Strategy:       original.StrategyUsed,
		OutcomeSuccess: result.Outcome(),
		AdmissionText:  result.AdmissionText,
		RecoveryAmount: result.RefundAmount,
		Timestamp:      respondedAt,
	}
	if original.SentAt != nil {
		event.ResponseTimeHours = respondedAt.Sub(*original.SentAt).Hours()
	}
	if result.ViolationCount > 0 {
		event.ViolationType = "response_violation"
	}

	if err := s.outcomes.Enqueue(event); err != nil {
		// The learning engine absorbs duplicate IDs, so an operator can
		// replay this event from the log line.
		s.logger.ErrorContext(ctx, "outcome event dropped",
			"event_id", event.ID.String(),
			"message_id", original.ID.String(),
			"error", err,
		)
	}
}

func (s *Service) enqueueAnchor(ctx context.Context, req evidence.AnchorRequest) {
	if err := s.anchors.Enqueue(req); err != nil {
		caseRef := req.CaseRef
		if caseRef == "" {
			caseRef = req.Doc.CaseRef
		}
		s.logger.ErrorContext(ctx, "anchor request dropped, manual anchor required",
			"case_ref", caseRef, "error", err)
	}
}

func outboundDocument(msg Message) evidence.Document {
	createdAt := msg.CreatedAt
	if msg.SentAt != nil {
		createdAt = *msg.SentAt
	}
	return evidence.Document{
		Type:      evidence.DocumentTypeOutbound,
		CaseRef:   msg.ID.String(),
		Content:   msg.BodyContent,
		CreatedAt: createdAt,
	}
}

// GetMessage returns a message owned by the requesting user.
func (s *Service) GetMessage(ctx context.Context, messageID domain.MessageID, userID domain.UserID) (Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.UserID != userID {
		return Message{}, dErrors.New(dErrors.CodeNotOwner, "message belongs to another user")
	}
	return msg, nil
}

// ListMessages returns all messages for a user in creation order.
func (s *Service) ListMessages(ctx context.Context, userID domain.UserID) ([]Message, error) {
	return s.messages.ListForUser(ctx, userID)
}

// ReviewQueue lists inbound messages awaiting human review.
func (s *Service) ReviewQueue(ctx context.Context) ([]InboundRecord, error) {
	return s.inbound.ListForReview(ctx)
}

// CounterpartySummary is the read-only analytics view over one counterparty.
type CounterpartySummary struct {
	CounterpartyID domain.CounterpartyID `json:"counterparty_id"`
	StatusCounts   map[Status]int        `json:"status_counts"`
	Intelligence   learning.Intelligence `json:"intelligence"`
}

// Summary aggregates message counts and collective intelligence for one
// counterparty.
func (s *Service) Summary(ctx context.Context, counterpartyID domain.CounterpartyID) (CounterpartySummary, error) {
	counts, err := s.messages.StatusCounts(ctx, counterpartyID)
	if err != nil {
		return CounterpartySummary{}, err
	}
	intel, err := s.advisor.GetIntelligence(ctx, counterpartyID)
	if err != nil {
		return CounterpartySummary{}, err
	}
	return CounterpartySummary{
		CounterpartyID: counterpartyID,
		StatusCounts:   counts,
		Intelligence:   intel,
	}, nil
}
