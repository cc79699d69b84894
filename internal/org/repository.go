package org

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/platform/db"
	"github.com/teranga-app/teranga/internal/shared"
)

// Repository defines organizational data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CreateAssociation(ctx context.Context, assoc Association) error
	GetAssociation(ctx context.Context, id uuid.UUID) (Association, error)
	ListAssociations(ctx context.Context) ([]Association, error)

	CreateMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, id uuid.UUID) (Member, error)
	ListMembers(ctx context.Context, associationID uuid.UUID) ([]Member, error)

	CreateSection(ctx context.Context, section Section) error
	GetSection(ctx context.Context, id uuid.UUID) (Section, error)
	ListSections(ctx context.Context, associationID uuid.UUID) ([]Section, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	GetAssociationForUpdate(ctx context.Context, id uuid.UUID) (Association, error)
	UpdateAssociation(ctx context.Context, assoc Association) error

	GetMemberForUpdate(ctx context.Context, id uuid.UUID) (Member, error)
	UpdateMember(ctx context.Context, member Member) error
	CountMembersWithRole(ctx context.Context, associationID uuid.UUID, roleID string) (int, error)
	RemoveRoleFromMembers(ctx context.Context, associationID uuid.UUID, roleID string) error

	GetSectionForUpdate(ctx context.Context, id uuid.UUID) (Section, error)
	UpdateSection(ctx context.Context, section Section) error
	DeleteSection(ctx context.Context, id uuid.UUID) error
	ReassignSectionMembersToCentral(ctx context.Context, sectionID uuid.UUID) error
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

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgconnCommandTag narrows pgconn.CommandTag to what we use.
type pgconnCommandTag interface {
	RowsAffected() int64
}

type poolQuerier struct{ pool *pgxpool.Pool }

func (q poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.pool.Exec(ctx, sql, args...)
	return tag, err
}
func (q poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.pool.QueryRow(ctx, sql, args...)
}
func (q poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.pool.Query(ctx, sql, args...)
}

type txQuerier struct{ tx pgx.Tx }

func (q txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.tx.Exec(ctx, sql, args...)
	return tag, err
}
func (q txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.tx.QueryRow(ctx, sql, args...)
}
func (q txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.tx.Query(ctx, sql, args...)
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{q: txQuerier{tx: tx}})
	})
}

type associationDoc struct {
	MemberTypes        []MemberType       `json:"member_types"`
	Roles              []Role             `json:"roles"`
	CotisationSettings CotisationSettings `json:"cotisation_settings"`
	AccessRights       map[string]int     `json:"access_rights"`
}

func insertAssociation(ctx context.Context, q querier, assoc Association) error {
	doc, err := json.Marshal(associationDoc{
		MemberTypes:        assoc.MemberTypes,
		Roles:              assoc.Roles,
		CotisationSettings: assoc.CotisationSettings,
		AccessRights:       assoc.AccessRights,
	})
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO associations
(id, name, legal_status, domiciliation_country, primary_currency, is_multi_section, approval_ceiling, doc, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		assoc.ID, assoc.Name, assoc.LegalStatus, assoc.DomiciliationCountry,
		assoc.PrimaryCurrency, assoc.IsMultiSection, assoc.ApprovalCeiling,
		doc, assoc.Version, assoc.CreatedAt, assoc.UpdatedAt)
	return err
}

func scanAssociation(row pgx.Row) (Association, error) {
	var assoc Association
	var doc []byte
	err := row.Scan(&assoc.ID, &assoc.Name, &assoc.LegalStatus, &assoc.DomiciliationCountry,
		&assoc.PrimaryCurrency, &assoc.IsMultiSection, &assoc.ApprovalCeiling,
		&doc, &assoc.Version, &assoc.CreatedAt, &assoc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Association{}, shared.ErrNotFound
		}
		return Association{}, err
	}
	var d associationDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Association{}, fmt.Errorf("org: decode association doc: %w", err)
	}
	assoc.MemberTypes = d.MemberTypes
	assoc.Roles = d.Roles
	assoc.CotisationSettings = d.CotisationSettings
	assoc.AccessRights = d.AccessRights
	return assoc, nil
}

const associationColumns = `id, name, legal_status, domiciliation_country, primary_currency, is_multi_section, approval_ceiling, doc, version, created_at, updated_at`

func (r *pgRepository) CreateAssociation(ctx context.Context, assoc Association) error {
	return insertAssociation(ctx, poolQuerier{pool: r.pool}, assoc)
}

func (r *pgRepository) GetAssociation(ctx context.Context, id uuid.UUID) (Association, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+associationColumns+` FROM associations WHERE id=$1`, id)
	return scanAssociation(row)
}

func (r *pgRepository) ListAssociations(ctx context.Context) ([]Association, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+associationColumns+` FROM associations ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var associations []Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		associations = append(associations, a)
	}
	return associations, rows.Err()
}

type memberDoc struct {
	Roles     []string       `json:"roles"`
	Overrides perm.Overrides `json:"overrides"`
}

const memberColumns = `id, user_id, association_id, section_id, member_type, status, join_date, cotisation_amount, total_contributed, doc, version, created_at, updated_at`

func insertMember(ctx context.Context, q querier, m Member) error {
	doc, err := json.Marshal(memberDoc{Roles: m.Roles, Overrides: m.Overrides})
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO members
(id, user_id, association_id, section_id, member_type, status, join_date, cotisation_amount, total_contributed, doc, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.UserID, m.AssociationID, m.SectionID, m.MemberType, string(m.Status),
		m.JoinDate, m.CotisationAmount, m.TotalContributed, doc, m.Version, m.CreatedAt, m.UpdatedAt)
	return err
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	var status string
	var doc []byte
	err := row.Scan(&m.ID, &m.UserID, &m.AssociationID, &m.SectionID, &m.MemberType, &status,
		&m.JoinDate, &m.CotisationAmount, &m.TotalContributed, &doc, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, shared.ErrNotFound
		}
		return Member{}, err
	}
	m.Status = MemberStatus(status)
	var d memberDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return Member{}, fmt.Errorf("org: decode member doc: %w", err)
	}
	m.Roles = d.Roles
	m.Overrides = d.Overrides
	return m, nil
}

func (r *pgRepository) CreateMember(ctx context.Context, member Member) error {
	return insertMember(ctx, poolQuerier{pool: r.pool}, member)
}

func (r *pgRepository) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id=$1`, id)
	return scanMember(row)
}

func (r *pgRepository) ListMembers(ctx context.Context, associationID uuid.UUID) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE association_id=$1 ORDER BY join_date ASC`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const sectionColumns = `id, association_id, country, city, currency, language, responsable_id, secretaire_id, tresorier_id, version, created_at, updated_at`

func scanSection(row pgx.Row) (Section, error) {
	var s Section
	err := row.Scan(&s.ID, &s.AssociationID, &s.Country, &s.City, &s.Currency, &s.Language,
		&s.Bureau.ResponsableID, &s.Bureau.SecretaireID, &s.Bureau.TresorierID,
		&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Section{}, shared.ErrNotFound
		}
		return Section{}, err
	}
	return s, nil
}

func (r *pgRepository) CreateSection(ctx context.Context, section Section) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sections
(id, association_id, country, city, currency, language, responsable_id, secretaire_id, tresorier_id, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		section.ID, section.AssociationID, section.Country, section.City, section.Currency, section.Language,
		section.Bureau.ResponsableID, section.Bureau.SecretaireID, section.Bureau.TresorierID,
		section.Version, section.CreatedAt, section.UpdatedAt)
	return err
}

func (r *pgRepository) GetSection(ctx context.Context, id uuid.UUID) (Section, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id=$1`, id)
	return scanSection(row)
}

func (r *pgRepository) ListSections(ctx context.Context, associationID uuid.UUID) ([]Section, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sectionColumns+` FROM sections WHERE association_id=$1 ORDER BY created_at ASC`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

type pgTxRepository struct {
	q txQuerier
}

func (t *pgTxRepository) GetAssociationForUpdate(ctx context.Context, id uuid.UUID) (Association, error) {
	row := t.q.QueryRow(ctx, `SELECT `+associationColumns+` FROM associations WHERE id=$1 FOR UPDATE`, id)
	return scanAssociation(row)
}

func (t *pgTxRepository) UpdateAssociation(ctx context.Context, assoc Association) error {
	doc, err := json.Marshal(associationDoc{
		MemberTypes:        assoc.MemberTypes,
		Roles:              assoc.Roles,
		CotisationSettings: assoc.CotisationSettings,
		AccessRights:       assoc.AccessRights,
	})
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `UPDATE associations SET
name=$2, legal_status=$3, domiciliation_country=$4, primary_currency=$5, is_multi_section=$6,
approval_ceiling=$7, doc=$8, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$9`,
		assoc.ID, assoc.Name, assoc.LegalStatus, assoc.DomiciliationCountry, assoc.PrimaryCurrency,
		assoc.IsMultiSection, assoc.ApprovalCeiling, doc, assoc.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("association %s was modified concurrently", assoc.ID)
	}
	return nil
}

func (t *pgTxRepository) GetMemberForUpdate(ctx context.Context, id uuid.UUID) (Member, error) {
	row := t.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id=$1 FOR UPDATE`, id)
	return scanMember(row)
}

func (t *pgTxRepository) UpdateMember(ctx context.Context, m Member) error {
	doc, err := json.Marshal(memberDoc{Roles: m.Roles, Overrides: m.Overrides})
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `UPDATE members SET
section_id=$2, member_type=$3, status=$4, cotisation_amount=$5, total_contributed=$6,
doc=$7, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$8`,
		m.ID, m.SectionID, m.MemberType, string(m.Status), m.CotisationAmount, m.TotalContributed,
		doc, m.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("member %s was modified concurrently", m.ID)
	}
	return nil
}

func (t *pgTxRepository) CountMembersWithRole(ctx context.Context, associationID uuid.UUID, roleID string) (int, error) {
	var count int
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM members
WHERE association_id=$1 AND doc->'roles' ? $2`, associationID, roleID).Scan(&count)
	return count, err
}

func (t *pgTxRepository) RemoveRoleFromMembers(ctx context.Context, associationID uuid.UUID, roleID string) error {
	_, err := t.q.Exec(ctx, `UPDATE members
SET doc = jsonb_set(doc, '{roles}', (doc->'roles') - $2), version=version+1, updated_at=NOW()
WHERE association_id=$1 AND doc->'roles' ? $2`, associationID, roleID)
	return err
}

func (t *pgTxRepository) GetSectionForUpdate(ctx context.Context, id uuid.UUID) (Section, error) {
	row := t.q.QueryRow(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id=$1 FOR UPDATE`, id)
	return scanSection(row)
}

func (t *pgTxRepository) UpdateSection(ctx context.Context, s Section) error {
	tag, err := t.q.Exec(ctx, `UPDATE sections SET
country=$2, city=$3, currency=$4, language=$5, responsable_id=$6, secretaire_id=$7, tresorier_id=$8,
version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$9`,
		s.ID, s.Country, s.City, s.Currency, s.Language,
		s.Bureau.ResponsableID, s.Bureau.SecretaireID, s.Bureau.TresorierID, s.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf("section %s was modified concurrently", s.ID)
	}
	return nil
}

func (t *pgTxRepository) DeleteSection(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM sections WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTxRepository) ReassignSectionMembersToCentral(ctx context.Context, sectionID uuid.UUID) error {
	_, err := t.q.Exec(ctx, `UPDATE members SET section_id=NULL, version=version+1, updated_at=NOW() WHERE section_id=$1`, sectionID)
	return err
}
