package cotisation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/platform/db"
	"github.com/teranga-app/teranga/internal/shared"
)

// Repository defines cotisation data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetRecord(ctx context.Context, id uuid.UUID) (Record, error)
	ListMemberRecords(ctx context.Context, memberID uuid.UUID) ([]Record, error)
	ListUnpaidRecords(ctx context.Context, associationID uuid.UUID) ([]Record, error)
	ListActiveMembers(ctx context.Context, associationID uuid.UUID) ([]org.Member, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	InsertRecord(ctx context.Context, record Record) error
	InsertRecordIfAbsent(ctx context.Context, record Record) (bool, error)
	GetRecordForUpdate(ctx context.Context, id uuid.UUID) (Record, error)
	GetRecordForPeriodForUpdate(ctx context.Context, memberID uuid.UUID, month, year int) (Record, error)
	UpdateRecord(ctx context.Context, record Record) error
	AddToMemberTotal(ctx context.Context, memberID uuid.UUID, amount float64) error
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

const recordColumns = `id, member_id, association_id, month, year, expected_amount, paid_amount, payment_method, payment_date, source, validation_state, validator_id, version, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var source, state string
	err := row.Scan(&rec.ID, &rec.MemberID, &rec.AssociationID, &rec.Month, &rec.Year,
		&rec.ExpectedAmount, &rec.PaidAmount, &rec.PaymentMethod, &rec.PaymentDate,
		&source, &state, &rec.ValidatorID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	rec.Source = Source(source)
	rec.ValidationState = ValidationState(state)
	return rec, nil
}

func (r *pgRepository) GetRecord(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM cotisation_records WHERE id=$1`, id)
	return scanRecord(row)
}

func (r *pgRepository) ListMemberRecords(ctx context.Context, memberID uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM cotisation_records
WHERE member_id=$1 ORDER BY year DESC, month DESC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *pgRepository) ListUnpaidRecords(ctx context.Context, associationID uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM cotisation_records
WHERE association_id=$1 AND paid_amount < expected_amount ORDER BY year DESC, month DESC`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *pgRepository) ListActiveMembers(ctx context.Context, associationID uuid.UUID) ([]org.Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, cotisation_amount FROM members
WHERE association_id=$1 AND status='active'`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []org.Member
	for rows.Next() {
		var m org.Member
		if err := rows.Scan(&m.ID, &m.CotisationAmount); err != nil {
			return nil, err
		}
		m.AssociationID = associationID
		members = append(members, m)
	}
	return members, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) InsertRecord(ctx context.Context, rec Record) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO cotisation_records
(id, member_id, association_id, month, year, expected_amount, paid_amount, payment_method, payment_date, source, validation_state, validator_id, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.MemberID, rec.AssociationID, rec.Month, rec.Year,
		rec.ExpectedAmount, rec.PaidAmount, rec.PaymentMethod, rec.PaymentDate,
		string(rec.Source), string(rec.ValidationState), rec.ValidatorID,
		rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.Conflictf("cotisation record for member %s period %d/%d already exists", rec.MemberID, rec.Month, rec.Year)
		}
		return err
	}
	return nil
}

func (t *pgTxRepository) InsertRecordIfAbsent(ctx context.Context, rec Record) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO cotisation_records
(id, member_id, association_id, month, year, expected_amount, paid_amount, payment_method, payment_date, source, validation_state, validator_id, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (member_id, month, year) DO NOTHING`,
		rec.ID, rec.MemberID, rec.AssociationID, rec.Month, rec.Year,
		rec.ExpectedAmount, rec.PaidAmount, rec.PaymentMethod, rec.PaymentDate,
		string(rec.Source), string(rec.ValidationState), rec.ValidatorID,
		rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTxRepository) GetRecordForUpdate(ctx context.Context, id uuid.UUID) (Record, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM cotisation_records WHERE id=$1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (t *pgTxRepository) GetRecordForPeriodForUpdate(ctx context.Context, memberID uuid.UUID, month, year int) (Record, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM cotisation_records
WHERE member_id=$1 AND month=$2 AND year=$3 FOR UPDATE`, memberID, month, year)
	return scanRecord(row)
}

func (t *pgTxRepository) UpdateRecord(ctx context.Context, rec Record) error {
	tag, err := t.tx.Exec(ctx, `UPDATE cotisation_records SET
paid_amount=$2, payment_method=$3, payment_date=$4, source=$5, validation_state=$6, validator_id=$7,
version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$8`,
		rec.ID, rec.PaidAmount, rec.PaymentMethod, rec.PaymentDate,
		string(rec.Source), string(rec.ValidationState), rec.ValidatorID, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("cotisation record %s was modified concurrently", rec.ID)
	}
	return nil
}

func (t *pgTxRepository) AddToMemberTotal(ctx context.Context, memberID uuid.UUID, amount float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE members SET total_contributed = total_contributed + $2, updated_at=NOW() WHERE id=$1`, memberID, amount)
	return err
}
