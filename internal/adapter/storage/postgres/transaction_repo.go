package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, reference, user_id, provider, cart_id, payment_method_id, parent_id,
		type, status, amount, currency, fee_amount, provider_tx_id, checkout_url,
		description, failure_reason, metadata, created_at, updated_at, completed_at`

// Create inserts a new transaction within a database transaction. Unique
// violations are translated per constraint: the reference key surfaces as
// ErrDuplicateReference, the single-refund-child index as ErrDuplicateRefund.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	meta, err := marshalAttributes(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	query := `INSERT INTO transactions (id, reference, user_id, provider, cart_id, payment_method_id,
		parent_id, type, status, amount, currency, fee_amount, provider_tx_id, checkout_url,
		description, failure_reason, metadata, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = tx.Exec(ctx, query,
		t.ID, t.Reference, t.UserID, t.Provider, t.CartID, t.PaymentMethodID,
		t.ParentID, t.Type, t.Status, t.Amount, t.Currency, t.FeeAmount,
		t.ProviderTxID, t.CheckoutURL, t.Description, t.FailureReason, meta,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "transactions_reference_key"):
			return ports.ErrDuplicateReference
		case isUniqueViolation(err, "transactions_parent_refund_idx"):
			return ports.ErrDuplicateRefund
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction by UUID with a row-level lock.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1 FOR UPDATE`, transactionColumns)
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// GetByReference fetches a transaction by its provider-facing reference.
func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE reference = $1`, transactionColumns)
	return scanTransaction(r.pool.QueryRow(ctx, query, reference))
}

// GetByReferenceForUpdate fetches a transaction by reference with a row-level
// lock. The webhook and verify paths both settle through this lock.
func (r *TransactionRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE reference = $1 FOR UPDATE`, transactionColumns)
	return scanTransaction(tx.QueryRow(ctx, query, reference))
}

// Update persists the transaction's mutable fields within a database
// transaction. Identity, linkage and amount columns never change after insert.
func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	meta, err := marshalAttributes(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	query := `UPDATE transactions SET status = $1, fee_amount = $2, provider_tx_id = $3,
		checkout_url = $4, failure_reason = $5, metadata = $6, completed_at = $7, updated_at = NOW()
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		t.Status, t.FeeAmount, t.ProviderTxID, t.CheckoutURL,
		t.FailureReason, meta, t.CompletedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	return nil
}

// HasRefundChild checks if a non-failed refund child already exists for a
// parent transaction. Runs inside tx so the answer is stable under the
// parent's row lock.
func (r *TransactionRepo) HasRefundChild(ctx context.Context, tx pgx.Tx, parentID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE parent_id = $1 AND status != 'failed')`

	var exists bool
	err := tx.QueryRow(ctx, query, parentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check refund child exists: %w", err)
	}
	return exists, nil
}

// List fetches a user's transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.Provider != nil {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIdx))
		args = append(args, *params.Provider)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var meta []byte
		err := rows.Scan(
			&t.ID, &t.Reference, &t.UserID, &t.Provider, &t.CartID, &t.PaymentMethodID,
			&t.ParentID, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.FeeAmount,
			&t.ProviderTxID, &t.CheckoutURL, &t.Description, &t.FailureReason, &meta,
			&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal transaction metadata: %w", err)
			}
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats retrieves aggregated ledger statistics for a user. Paid volume
// includes payments later refunded; refunded volume counts settled refund
// children, so the two never double-adjust each other.
func (r *TransactionRepo) GetStats(ctx context.Context, userID uuid.UUID) (*ports.TransactionStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'succeeded') AS succeeded,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status IN ('refunded', 'partially_refunded')) AS refunded,
		COALESCE(SUM(amount) FILTER (WHERE type = 'payment' AND status IN ('succeeded', 'refunded', 'partially_refunded')), 0) AS total_paid,
		COALESCE(SUM(amount) FILTER (WHERE type IN ('refund', 'partial_refund') AND status = 'succeeded'), 0) AS total_refunded
		FROM transactions WHERE user_id = $1`

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalTransactions, &stats.Succeeded, &stats.Failed, &stats.Refunded,
		&stats.TotalPaid, &stats.TotalRefunded,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var meta []byte
	err := row.Scan(
		&t.ID, &t.Reference, &t.UserID, &t.Provider, &t.CartID, &t.PaymentMethodID,
		&t.ParentID, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.FeeAmount,
		&t.ProviderTxID, &t.CheckoutURL, &t.Description, &t.FailureReason, &meta,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}
	return t, nil
}
