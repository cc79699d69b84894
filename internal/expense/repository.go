package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranga-app/teranga/internal/platform/db"
	"github.com/teranga-app/teranga/internal/shared"
)

// Repository defines expense request data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	ListRequests(ctx context.Context, associationID uuid.UUID) ([]Request, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	UpdateRequest(ctx context.Context, req Request) error
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

type requestDoc struct {
	Beneficiary Beneficiary       `json:"beneficiary"`
	LoanTerms   *LoanTerms        `json:"loan_terms,omitempty"`
	History     []ValidationEntry `json:"history"`
}

const requestColumns = `id, association_id, section_id, requester_id, expense_type, amount_requested, currency, urgency, is_loan, status, review_cycle, doc, version, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var urgency, status string
	var doc []byte
	err := row.Scan(&req.ID, &req.AssociationID, &req.SectionID, &req.RequesterID,
		&req.ExpenseType, &req.AmountRequested, &req.Currency, &urgency, &req.IsLoan,
		&status, &req.ReviewCycle, &doc, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, shared.ErrNotFound
		}
		return Request{}, err
	}
	req.Urgency = Urgency(urgency)
	req.Status = RequestStatus(status)
	var d requestDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Request{}, fmt.Errorf("expense: decode request doc: %w", err)
	}
	req.Beneficiary = d.Beneficiary
	req.LoanTerms = d.LoanTerms
	req.History = d.History
	return req, nil
}

func marshalDoc(req Request) ([]byte, error) {
	return json.Marshal(requestDoc{
		Beneficiary: req.Beneficiary,
		LoanTerms:   req.LoanTerms,
		History:     req.History,
	})
}

func (r *pgRepository) CreateRequest(ctx context.Context, req Request) error {
	doc, err := marshalDoc(req)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO expense_requests
(id, association_id, section_id, requester_id, expense_type, amount_requested, currency, urgency, is_loan, status, review_cycle, doc, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.AssociationID, req.SectionID, req.RequesterID, req.ExpenseType,
		req.AmountRequested, req.Currency, string(req.Urgency), req.IsLoan,
		string(req.Status), req.ReviewCycle, doc, req.Version, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r *pgRepository) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM expense_requests WHERE id=$1`, id)
	return scanRequest(row)
}

func (r *pgRepository) ListRequests(ctx context.Context, associationID uuid.UUID) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM expense_requests
WHERE association_id=$1 ORDER BY created_at DESC`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM expense_requests WHERE id=$1 FOR UPDATE`, id)
	return scanRequest(row)
}

func (t *pgTxRepository) UpdateRequest(ctx context.Context, req Request) error {
	doc, err := marshalDoc(req)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE expense_requests SET
status=$2, review_cycle=$3, doc=$4, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$5`,
		req.ID, string(req.Status), req.ReviewCycle, doc, req.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("expense request %s was modified concurrently", req.ID)
	}
	return nil
}
