package loan

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranga-app/teranga/internal/platform/db"
	"github.com/teranga-app/teranga/internal/shared"
)

// Repository defines loan ledger data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetLoan(ctx context.Context, expenseRequestID uuid.UUID) (Loan, error)
	GetRepayment(ctx context.Context, id uuid.UUID) (Repayment, error)
	ListRepayments(ctx context.Context, expenseRequestID uuid.UUID) ([]Repayment, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	ListRepaymentsForUpdate(ctx context.Context, expenseRequestID uuid.UUID) ([]Repayment, error)
	GetRepaymentForUpdate(ctx context.Context, id uuid.UUID) (Repayment, error)
	InsertRepayment(ctx context.Context, r Repayment) error
	UpdateRepayment(ctx context.Context, r Repayment) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// GetLoan projects the approved loan request row onto the ledger view. The
// origination date is the request's last update at approval time.
func (r *pgRepository) GetLoan(ctx context.Context, expenseRequestID uuid.UUID) (Loan, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, association_id, amount_requested, currency, status,
doc->'beneficiary'->>'member_id',
(doc->'loan_terms'->>'duration_months')::int,
(doc->'loan_terms'->>'interest_rate')::float8,
(doc->'loan_terms'->>'monthly_payment')::float8,
updated_at
FROM expense_requests WHERE id=$1 AND is_loan=TRUE`, expenseRequestID)

	var l Loan
	var status string
	var borrower *string
	err := row.Scan(&l.ExpenseRequestID, &l.AssociationID, &l.Amount, &l.Currency, &status,
		&borrower, &l.DurationMonths, &l.InterestRate, &l.MonthlyPayment, &l.OriginationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, shared.ErrNotFound
		}
		return Loan{}, err
	}
	if status != "approved" && status != "paid" {
		return Loan{}, shared.Invariantf("loan request %s is not approved (status %s)", expenseRequestID, status)
	}
	if borrower != nil {
		id, err := uuid.Parse(*borrower)
		if err == nil {
			l.BorrowerID = &id
		}
	}
	return l, nil
}

const repaymentColumns = `id, expense_request_id, amount, principal_amount, interest_amount, penalty_amount, payment_date, due_date, payment_method, manual_reference, status, validator_id, version, created_at, updated_at`

func scanRepayment(row pgx.Row) (Repayment, error) {
	var r Repayment
	var status string
	err := row.Scan(&r.ID, &r.ExpenseRequestID, &r.Amount, &r.PrincipalAmount, &r.InterestAmount,
		&r.PenaltyAmount, &r.PaymentDate, &r.DueDate, &r.PaymentMethod, &r.ManualReference,
		&status, &r.ValidatorID, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Repayment{}, shared.ErrNotFound
		}
		return Repayment{}, err
	}
	r.Status = RepaymentStatus(status)
	return r, nil
}

func (r *pgRepository) GetRepayment(ctx context.Context, id uuid.UUID) (Repayment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+repaymentColumns+` FROM loan_repayments WHERE id=$1`, id)
	return scanRepayment(row)
}

func (r *pgRepository) ListRepayments(ctx context.Context, expenseRequestID uuid.UUID) ([]Repayment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+repaymentColumns+` FROM loan_repayments
WHERE expense_request_id=$1 ORDER BY payment_date, created_at`, expenseRequestID)
	if err != nil {
		return nil, err
	}
	return collectRepayments(rows)
}

func collectRepayments(rows pgx.Rows) ([]Repayment, error) {
	defer rows.Close()
	var repayments []Repayment
	for rows.Next() {
		r, err := scanRepayment(rows)
		if err != nil {
			return nil, err
		}
		repayments = append(repayments, r)
	}
	return repayments, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) ListRepaymentsForUpdate(ctx context.Context, expenseRequestID uuid.UUID) ([]Repayment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+repaymentColumns+` FROM loan_repayments
WHERE expense_request_id=$1 ORDER BY payment_date, created_at FOR UPDATE`, expenseRequestID)
	if err != nil {
		return nil, err
	}
	return collectRepayments(rows)
}

func (t *pgTxRepository) GetRepaymentForUpdate(ctx context.Context, id uuid.UUID) (Repayment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+repaymentColumns+` FROM loan_repayments WHERE id=$1 FOR UPDATE`, id)
	return scanRepayment(row)
}

func (t *pgTxRepository) InsertRepayment(ctx context.Context, r Repayment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO loan_repayments
(id, expense_request_id, amount, principal_amount, interest_amount, penalty_amount, payment_date, due_date, payment_method, manual_reference, status, validator_id, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.ExpenseRequestID, r.Amount, r.PrincipalAmount, r.InterestAmount, r.PenaltyAmount,
		r.PaymentDate, r.DueDate, r.PaymentMethod, r.ManualReference, string(r.Status),
		r.ValidatorID, r.Version, r.CreatedAt, r.UpdatedAt)
	var pgErr *pgconn.PgError
	// Partial unique index on (expense_request_id, lower(manual_reference))
	// excluding rejected rows backs the per-loan reference uniqueness rule.
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.Validationf("manual reference %q already used on this loan", r.ManualReference)
	}
	return err
}

func (t *pgTxRepository) UpdateRepayment(ctx context.Context, r Repayment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE loan_repayments SET
amount=$2, principal_amount=$3, interest_amount=$4, penalty_amount=$5, payment_date=$6,
due_date=$7, payment_method=$8, manual_reference=$9, status=$10, validator_id=$11,
version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$12`,
		r.ID, r.Amount, r.PrincipalAmount, r.InterestAmount, r.PenaltyAmount, r.PaymentDate,
		r.DueDate, r.PaymentMethod, r.ManualReference, string(r.Status), r.ValidatorID, r.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("repayment %s was modified concurrently", r.ID)
	}
	return nil
}
