package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL   = 24 * time.Hour
	webhookReplayTTL = 24 * time.Hour
)

// errSettlementMismatch signals that the provider-verified amount or currency
// does not match the ledger row. Settlement is refused; callers decide how to
// surface it (verify → 409, webhook → mismatch outcome).
var errSettlementMismatch = errors.New("verified amount or currency does not match the transaction")

// settleResult classifies what a settlement attempt did.
type settleResult int

const (
	settleApplied  settleResult = iota // status transitioned, event published
	settleReplayed                     // same status already in place, no-op
	settleSkipped                      // non-terminal provider status, nothing to write
	settleConflict                     // illegal transition requested, left untouched
)

// settlement is the provider-side evidence a settle call acts on. A nil
// amount skips the amount/currency cross-check (non-success statuses).
type settlement struct {
	status        ports.SettlementStatus
	amount        *decimal.Decimal
	currency      string
	fee           *decimal.Decimal
	failureReason string
}

// TransactionServiceImpl implements ports.TransactionService. Settlement
// writes (webhook and verify paths alike) run inside one DB transaction with
// the ledger row locked FOR UPDATE, so no path acts on a stale read.
type TransactionServiceImpl struct {
	txRepo          ports.TransactionRepository
	cartRepo        ports.CartRepository
	webhookRepo     ports.WebhookEventRepository
	idempRepo       ports.IdempotencyRepository
	idempCache      ports.IdempotencyCache
	replayStore     ports.WebhookReplayStore
	registry        ports.GatewayRegistry
	publisher       ports.EventPublisher
	transactor      ports.DBTransactor
	callbackBaseURL string
	log             zerolog.Logger
}

// NewTransactionService creates a new TransactionServiceImpl. callbackBaseURL
// is the public webhook prefix; the provider key is appended per checkout.
func NewTransactionService(
	txRepo ports.TransactionRepository,
	cartRepo ports.CartRepository,
	webhookRepo ports.WebhookEventRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	replayStore ports.WebhookReplayStore,
	registry ports.GatewayRegistry,
	publisher ports.EventPublisher,
	transactor ports.DBTransactor,
	callbackBaseURL string,
	log zerolog.Logger,
) *TransactionServiceImpl {
	return &TransactionServiceImpl{
		txRepo:          txRepo,
		cartRepo:        cartRepo,
		webhookRepo:     webhookRepo,
		idempRepo:       idempRepo,
		idempCache:      idempCache,
		replayStore:     replayStore,
		registry:        registry,
		publisher:       publisher,
		transactor:      transactor,
		callbackBaseURL: callbackBaseURL,
		log:             log,
	}
}

// Create opens a pending ledger entry. With a cart reference the amount and
// currency derive from the owned cart; otherwise they are explicit.
func (s *TransactionServiceImpl) Create(ctx context.Context, actor domain.ActorContext, req ports.CreateTransactionRequest) (*domain.Transaction, error) {
	if !actor.IsAuthenticated() {
		return nil, apperror.ErrAuthRequired()
	}
	userID := *actor.UserID

	gw, ok := s.registry.Get(req.Provider)
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(userID, "create", req.IdempotencyKey)
		if cached, err := s.cachedResponse(ctx, idempKey); err != nil || cached != nil {
			return cached, err
		}
	}

	amount, currency, cartID, err := s.resolveAmount(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	// Business rule: provider must settle the currency before any entry opens.
	if !gw.SupportsCurrency(currency) {
		return nil, apperror.ErrUnsupportedCurrency(currency, req.Provider)
	}

	reference := req.Reference
	if reference == "" {
		reference = domain.NewTransactionReference()
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		UserID:      userID,
		Provider:    req.Provider,
		CartID:      cartID,
		Type:        domain.TransactionTypePayment,
		Status:      domain.TransactionStatusPending,
		Amount:      amount,
		Currency:    currency,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if errors.Is(err, ports.ErrDuplicateReference) {
			return nil, apperror.ErrDuplicateReference()
		}
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	var respJSON []byte
	if idempKey != "" {
		respJSON, err = json.Marshal(txn)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
		}
		entry := &domain.IdempotencyLog{
			Key:           idempKey,
			TransactionID: txn.ID,
			ResponseJSON:  respJSON,
			CreatedAt:     now,
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
				return nil, apperror.ErrDuplicateRequest()
			}
			return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if idempKey != "" {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("reference", txn.Reference).
		Str("provider", txn.Provider).
		Str("amount", txn.Amount.String()).
		Str("currency", txn.Currency).
		Msg("transaction created")

	return txn, nil
}

// Process opens a hosted checkout with the provider and moves the
// transaction from pending to processing. An adapter failure moves it to
// failed with the adapter message, never leaving it silently stuck.
func (s *TransactionServiceImpl) Process(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req ports.ProcessRequest) (*ports.CheckoutResult, error) {
	txn, err := s.ownedTransaction(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Customer.Email == "" {
		return nil, apperror.Validation("Customer email is required")
	}
	if txn.Status != domain.TransactionStatusPending {
		return nil, apperror.ErrInvalidTransition(string(txn.Status), string(domain.TransactionStatusProcessing))
	}

	gw, ok := s.registry.Get(txn.Provider)
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	result, err := gw.InitializePayment(ctx, ports.InitializePaymentRequest{
		Reference:   txn.Reference,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Email:       req.Customer.Email,
		FirstName:   req.Customer.FirstName,
		LastName:    req.Customer.LastName,
		Phone:       req.Customer.Phone,
		Description: txn.Description,
		CallbackURL: s.callbackURL(txn.Provider),
		ReturnURL:   req.ReturnURL,
		Metadata:    txn.Metadata,
	})
	if err != nil {
		s.markFailed(ctx, txn.ID, fmt.Sprintf("checkout initialization failed: %v", err))
		if errors.Is(err, ports.ErrUnsupportedCurrency) {
			return nil, apperror.ErrUnsupportedCurrency(txn.Currency, txn.Provider)
		}
		return nil, apperror.ErrAdapterFailure(txn.Provider, err)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txn.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if locked == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !locked.CanTransitionTo(domain.TransactionStatusProcessing) {
		return nil, apperror.ErrInvalidTransition(string(locked.Status), string(domain.TransactionStatusProcessing))
	}

	locked.Status = domain.TransactionStatusProcessing
	locked.CheckoutURL = &result.CheckoutURL
	if result.ProviderTxID != "" {
		providerTxID := result.ProviderTxID
		locked.ProviderTxID = &providerTxID
	}
	locked.UpdatedAt = time.Now().UTC()
	if err := s.txRepo.Update(ctx, dbTx, locked); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("tx_id", locked.ID.String()).
		Str("reference", locked.Reference).
		Str("provider", locked.Provider).
		Msg("checkout initialized")

	return &ports.CheckoutResult{Transaction: locked, CheckoutURL: result.CheckoutURL}, nil
}

// Verify settles the transaction from a synchronous provider lookup. A
// provider outage marks the transaction failed rather than leaving it stuck
// in processing.
func (s *TransactionServiceImpl) Verify(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.ownedTransaction(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if txn.IsTerminal() {
		return txn, nil
	}

	gw, ok := s.registry.Get(txn.Provider)
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	verified, err := gw.VerifyPayment(ctx, txn.Reference)
	if err != nil {
		s.markFailed(ctx, txn.ID, fmt.Sprintf("provider verification failed: %v", err))
		return nil, apperror.ErrAdapterFailure(txn.Provider, err)
	}

	settled, _, err := s.settle(ctx, txn.ID, settlementFromVerify(verified))
	if err != nil {
		if errors.Is(err, errSettlementMismatch) {
			return nil, apperror.ErrSettlementMismatch()
		}
		return nil, err
	}
	return settled, nil
}

// Refund settles a refund through the provider and records the child entry.
// Provider acceptance and the ledger writes commit atomically; on adapter
// failure nothing is persisted.
func (s *TransactionServiceImpl) Refund(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req ports.RefundRequest) (*domain.Transaction, error) {
	if !actor.IsAuthenticated() {
		return nil, apperror.ErrAuthRequired()
	}
	userID := *actor.UserID

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(userID, "refund", req.IdempotencyKey)
		if cached, err := s.cachedResponse(ctx, idempKey); err != nil || cached != nil {
			return cached, err
		}
	}

	parent, err := s.ownedTransaction(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !parent.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	// Determine refund amount
	amount := parent.Amount
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, apperror.ErrInvalidAmount()
		}
		if req.Amount.GreaterThan(parent.Amount) {
			return nil, apperror.ErrRefundAmountExceedsOriginal()
		}
		amount = *req.Amount
	}
	partial := amount.LessThan(parent.Amount)

	gw, ok := s.registry.Get(parent.Provider)
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock the parent; the row lock serializes concurrent refund attempts.
	parent, err = s.txRepo.GetByIDForUpdate(ctx, dbTx, parent.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if parent == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !parent.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}
	hasChild, err := s.txRepo.HasRefundChild(ctx, dbTx, parent.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check refund child: %w", err))
	}
	if hasChild {
		return nil, apperror.ErrNotRefundable()
	}

	// Provider call happens inside the transaction so acceptance and the
	// ledger writes commit together; failure rolls everything back.
	refundReq := ports.RefundPaymentRequest{Reference: parent.Reference, Reason: req.Reason}
	if partial {
		refundAmount := amount
		refundReq.Amount = &refundAmount
	}
	accepted, err := gw.RefundPayment(ctx, refundReq)
	if err != nil {
		return nil, apperror.ErrAdapterFailure(parent.Provider, err)
	}

	refundType := domain.TransactionTypeRefund
	parentStatus := domain.TransactionStatusRefunded
	if partial {
		refundType = domain.TransactionTypePartialRefund
		parentStatus = domain.TransactionStatusPartiallyRefunded
	}

	now := time.Now().UTC()
	child := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   domain.RefundReference(parent.Reference),
		UserID:      parent.UserID,
		Provider:    parent.Provider,
		ParentID:    &parent.ID,
		Type:        refundType,
		Status:      domain.TransactionStatusSucceeded,
		Amount:      amount,
		Currency:    parent.Currency,
		Description: req.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	if accepted.ProviderRefundID != "" {
		providerRefundID := accepted.ProviderRefundID
		child.ProviderTxID = &providerRefundID
	}

	if err := s.txRepo.Create(ctx, dbTx, child); err != nil {
		if errors.Is(err, ports.ErrDuplicateRefund) || errors.Is(err, ports.ErrDuplicateReference) {
			return nil, apperror.ErrNotRefundable()
		}
		return nil, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	}

	parent.Status = parentStatus
	parent.UpdatedAt = now
	if err := s.txRepo.Update(ctx, dbTx, parent); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update parent: %w", err))
	}

	var respJSON []byte
	if idempKey != "" {
		respJSON, err = json.Marshal(child)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
		}
		entry := &domain.IdempotencyLog{
			Key:           idempKey,
			TransactionID: child.ID,
			ResponseJSON:  respJSON,
			CreatedAt:     now,
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
				return nil, apperror.ErrDuplicateRequest()
			}
			return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if idempKey != "" {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.publishEvent(ctx, domain.EventTypeTransactionRefunded, child)

	s.log.Info().
		Str("refund_id", child.ID.String()).
		Str("parent_id", parent.ID.String()).
		Str("amount", amount.String()).
		Bool("partial", partial).
		Msg("refund processed")

	return child, nil
}

// HandleWebhook processes one inbound provider delivery: signature check,
// audit record, replay guard, server-side re-verification, settlement.
func (s *TransactionServiceImpl) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*ports.WebhookHandleResult, error) {
	gw, ok := s.registry.Get(provider)
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	parsed, err := gw.ProcessWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrMissingWebhookSignature), errors.Is(err, ports.ErrInvalidWebhookSignature):
			return nil, apperror.ErrInvalidSignature()
		case errors.Is(err, ports.ErrMalformedWebhookPayload):
			return nil, apperror.ErrInvalidPayload()
		default:
			return nil, apperror.InternalError(fmt.Errorf("process webhook: %w", err))
		}
	}

	// Audit: every delivery that passed signature validation is recorded.
	// Outcome starts failed and is finalized once processing concludes.
	event := &domain.WebhookEvent{
		ID:         uuid.New(),
		Provider:   provider,
		EventType:  parsed.EventType,
		Reference:  parsed.Reference,
		Payload:    payload,
		Signature:  signature,
		Outcome:    domain.WebhookOutcomeFailed,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.webhookRepo.Insert(ctx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record webhook event: %w", err))
	}

	result, handleErr := s.applyWebhook(ctx, gw, parsed)
	if result != nil {
		s.finalizeWebhookEvent(ctx, event.ID, result.Outcome)
	}
	if handleErr != nil {
		return nil, handleErr
	}

	s.log.Info().
		Str("provider", provider).
		Str("reference", parsed.Reference).
		Str("outcome", string(result.Outcome)).
		Msg("webhook handled")

	return result, nil
}

// applyWebhook runs the business part of webhook handling. It may return a
// result alongside an error so the audit outcome is still finalized.
func (s *TransactionServiceImpl) applyWebhook(ctx context.Context, gw ports.SettlementGateway, parsed *ports.WebhookResult) (*ports.WebhookHandleResult, error) {
	// Replay guard: an identical (provider, reference, status) delivery
	// short-circuits before any settlement work. Store failure degrades to
	// processing; settlement locking still guarantees idempotency.
	fresh, err := s.replayStore.CheckAndSet(ctx, gw.Key(), parsed.Reference, string(parsed.Status), webhookReplayTTL)
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook replay store unavailable, continuing without dedup")
		fresh = true
	}
	if !fresh {
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeDuplicate}, nil
	}

	txn, err := s.txRepo.GetByReference(ctx, parsed.Reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("resolve reference: %w", err))
	}
	if txn == nil {
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeIgnored}, apperror.ErrNotFound("transaction")
	}

	var st settlement
	switch parsed.Status {
	case ports.SettlementStatusSuccess:
		// A success claim is never trusted from the payload alone; the
		// provider is asked directly before any money-moving transition.
		verified, verr := gw.VerifyPayment(ctx, parsed.Reference)
		if verr != nil {
			return nil, apperror.ErrAdapterFailure(gw.Key(), verr)
		}
		st = settlementFromVerify(verified)
	case ports.SettlementStatusFailed, ports.SettlementStatusCancelled:
		st = settlement{
			status:        parsed.Status,
			failureReason: fmt.Sprintf("provider reported %s", parsed.Status),
		}
	default:
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeIgnored, Transaction: txn}, nil
	}

	settled, res, err := s.settle(ctx, txn.ID, st)
	if err != nil {
		if errors.Is(err, errSettlementMismatch) {
			return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeMismatch, Transaction: txn}, nil
		}
		return nil, err
	}

	switch res {
	case settleApplied:
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeProcessed, Transaction: settled}, nil
	case settleReplayed:
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeDuplicate, Transaction: settled}, nil
	case settleSkipped:
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeIgnored, Transaction: settled}, nil
	default:
		return &ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeMismatch, Transaction: settled}, nil
	}
}

// Get fetches one owned transaction.
func (s *TransactionServiceImpl) Get(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (*domain.Transaction, error) {
	return s.ownedTransaction(ctx, actor, id)
}

// List returns the actor's transactions with filters and paging.
func (s *TransactionServiceImpl) List(ctx context.Context, actor domain.ActorContext, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if !actor.IsAuthenticated() {
		return nil, 0, apperror.ErrAuthRequired()
	}
	params.UserID = *actor.UserID
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	items, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return items, total, nil
}

// Stats returns per-user ledger aggregates.
func (s *TransactionServiceImpl) Stats(ctx context.Context, actor domain.ActorContext) (*ports.TransactionStats, error) {
	if !actor.IsAuthenticated() {
		return nil, apperror.ErrAuthRequired()
	}
	stats, err := s.txRepo.GetStats(ctx, *actor.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get stats: %w", err))
	}
	return stats, nil
}

// settle applies provider-side evidence to the ledger row inside one DB
// transaction with the row locked. Reapplying the current status is a no-op;
// illegal transitions are refused without touching the row. On success the
// fee is stamped and the linked cart, if still active, completes. An event is
// published after commit for every applied terminal transition.
func (s *TransactionServiceImpl) settle(ctx context.Context, txID uuid.UUID, st settlement) (*domain.Transaction, settleResult, error) {
	target, ok := settlementTargetStatus(st.status)
	if !ok {
		txn, err := s.txRepo.GetByID(ctx, txID)
		if err != nil {
			return nil, settleSkipped, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
		}
		return txn, settleSkipped, nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, settleSkipped, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txID)
	if err != nil {
		return nil, settleSkipped, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, settleSkipped, apperror.ErrNotFound("transaction")
	}

	if txn.Status == target {
		return txn, settleReplayed, nil
	}
	if !txn.CanTransitionTo(target) {
		s.log.Warn().
			Str("tx_id", txn.ID.String()).
			Str("current", string(txn.Status)).
			Str("target", string(target)).
			Msg("settlement refused: illegal status transition")
		return txn, settleConflict, nil
	}

	now := time.Now().UTC()
	switch target {
	case domain.TransactionStatusSucceeded:
		if st.amount != nil && (!st.amount.Equal(txn.Amount) || st.currency != txn.Currency) {
			s.log.Warn().
				Str("tx_id", txn.ID.String()).
				Str("ledger_amount", txn.Amount.String()).
				Str("verified_amount", st.amount.String()).
				Str("ledger_currency", txn.Currency).
				Str("verified_currency", st.currency).
				Msg("settlement refused: amount or currency mismatch")
			return txn, settleConflict, errSettlementMismatch
		}
		txn.FeeAmount = st.fee
		txn.CompletedAt = &now
		if txn.CartID != nil {
			cart, cerr := s.cartRepo.GetByIDForUpdate(ctx, dbTx, *txn.CartID)
			if cerr != nil {
				return nil, settleSkipped, apperror.InternalError(fmt.Errorf("lock cart: %w", cerr))
			}
			if cart != nil && cart.IsActive() {
				if cerr := s.cartRepo.UpdateStatus(ctx, dbTx, cart.ID, domain.CartStatusCompleted); cerr != nil {
					return nil, settleSkipped, apperror.InternalError(fmt.Errorf("complete cart: %w", cerr))
				}
			}
		}
	case domain.TransactionStatusFailed:
		reason := st.failureReason
		if reason == "" {
			reason = "provider reported failure"
		}
		txn.FailureReason = &reason
		txn.CompletedAt = &now
	case domain.TransactionStatusCancelled:
		txn.CompletedAt = &now
	}

	txn.Status = target
	txn.UpdatedAt = now
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return nil, settleSkipped, apperror.InternalError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, settleSkipped, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.publishEvent(ctx, domain.EventTypeTransactionSettled, txn)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("reference", txn.Reference).
		Str("status", string(txn.Status)).
		Msg("transaction settled")

	return txn, settleApplied, nil
}

// markFailed moves a non-terminal transaction to failed with the given
// reason. Terminal rows are left untouched. Errors are logged, not returned;
// callers are already surfacing the original failure.
func (s *TransactionServiceImpl) markFailed(ctx context.Context, txID uuid.UUID, reason string) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Msg("failed to begin mark-failed tx")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txID)
	if err != nil || txn == nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Msg("failed to lock transaction for mark-failed")
		return
	}
	if !txn.CanTransitionTo(domain.TransactionStatusFailed) {
		return
	}

	now := time.Now().UTC()
	txn.Status = domain.TransactionStatusFailed
	txn.FailureReason = &reason
	txn.CompletedAt = &now
	txn.UpdatedAt = now
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Msg("failed to mark transaction failed")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Error().Err(err).Str("tx_id", txID.String()).Msg("failed to commit mark-failed tx")
		return
	}

	s.publishEvent(ctx, domain.EventTypeTransactionSettled, txn)
}

// resolveAmount derives (amount, currency, cartID) from the request, either
// explicit or from the owned cart.
func (s *TransactionServiceImpl) resolveAmount(ctx context.Context, actor domain.ActorContext, req ports.CreateTransactionRequest) (decimal.Decimal, string, *uuid.UUID, error) {
	if req.CartID != nil {
		cart, err := s.cartRepo.GetByID(ctx, *req.CartID)
		if err != nil {
			return decimal.Zero, "", nil, apperror.InternalError(fmt.Errorf("get cart: %w", err))
		}
		if cart == nil || !actor.Owns(cart.UserID, cart.SessionToken) {
			return decimal.Zero, "", nil, apperror.ErrNotFound("cart")
		}
		if !cart.IsActive() {
			return decimal.Zero, "", nil, apperror.ErrCartNotActive()
		}
		if cart.IsExpired(time.Now().UTC()) {
			return decimal.Zero, "", nil, apperror.ErrCartExpired()
		}
		if cart.IsEmpty() {
			return decimal.Zero, "", nil, apperror.ErrEmptyCart()
		}
		if req.Currency != "" && req.Currency != cart.Currency {
			return decimal.Zero, "", nil, apperror.ErrCurrencyMismatch()
		}
		if !cart.Total.IsPositive() {
			return decimal.Zero, "", nil, apperror.ErrInvalidAmount()
		}
		return cart.Total, cart.Currency, req.CartID, nil
	}

	if req.Amount == nil {
		return decimal.Zero, "", nil, apperror.Validation("Either amount or cart_id is required")
	}
	if !req.Amount.IsPositive() {
		return decimal.Zero, "", nil, apperror.ErrInvalidAmount()
	}
	if req.Currency == "" {
		return decimal.Zero, "", nil, apperror.Validation("Currency is required")
	}
	return *req.Amount, req.Currency, nil, nil
}

// ownedTransaction fetches a transaction and enforces ownership; foreign
// rows answer not found.
func (s *TransactionServiceImpl) ownedTransaction(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (*domain.Transaction, error) {
	if !actor.IsAuthenticated() {
		return nil, apperror.ErrAuthRequired()
	}
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil || txn.UserID != *actor.UserID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// cachedResponse runs the two-layer idempotency check: Redis first, DB as
// the durable backup.
func (s *TransactionServiceImpl) cachedResponse(ctx context.Context, idempKey string) (*domain.Transaction, error) {
	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return unmarshalCachedTransaction(cached)
	}

	// Layer 2: DB idempotency check
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return unmarshalCachedTransaction(idempLog.ResponseJSON)
	}
	return nil, nil
}

// finalizeWebhookEvent stamps the audit record's outcome. Best-effort: the
// business result is already decided.
func (s *TransactionServiceImpl) finalizeWebhookEvent(ctx context.Context, eventID uuid.UUID, outcome domain.WebhookOutcome) {
	if err := s.webhookRepo.UpdateOutcome(ctx, eventID, outcome, time.Now().UTC()); err != nil {
		s.log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to finalize webhook event outcome")
	}
}

// publishEvent emits a settlement event. Failures are logged, never allowed
// to fail a committed operation.
func (s *TransactionServiceImpl) publishEvent(ctx context.Context, eventType string, txn *domain.Transaction) {
	if err := s.publisher.PublishTransactionEvent(ctx, domain.NewTransactionEvent(eventType, txn)); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("reference", txn.Reference).
			Msg("failed to publish transaction event")
	}
}

// callbackURL joins the configured public webhook prefix with the provider key.
func (s *TransactionServiceImpl) callbackURL(provider string) string {
	if s.callbackBaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.callbackBaseURL, "/") + "/" + provider
}

// settlementTargetStatus maps a provider settlement status onto the ledger
// lifecycle. Pending and unknown map to nothing; there is nothing to write.
func settlementTargetStatus(status ports.SettlementStatus) (domain.TransactionStatus, bool) {
	switch status {
	case ports.SettlementStatusSuccess:
		return domain.TransactionStatusSucceeded, true
	case ports.SettlementStatusFailed:
		return domain.TransactionStatusFailed, true
	case ports.SettlementStatusCancelled:
		return domain.TransactionStatusCancelled, true
	default:
		return "", false
	}
}

// settlementFromVerify lifts a verification result into settlement evidence.
func settlementFromVerify(v *ports.VerifyResult) settlement {
	st := settlement{
		status:   v.Status,
		currency: v.Currency,
		fee:      v.Fee,
	}
	amount := v.Amount
	st.amount = &amount
	if v.Status == ports.SettlementStatusFailed {
		st.failureReason = "provider verification reported failure"
		if msg, ok := v.Raw["message"].(string); ok && msg != "" {
			st.failureReason = msg
		}
	}
	return st
}

// unmarshalCachedTransaction deserializes a cached idempotent response.
func unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	if err := json.Unmarshal(data, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached tx: %w", err))
	}
	return txn, nil
}
