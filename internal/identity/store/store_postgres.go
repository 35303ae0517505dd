package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"identitystore/internal/identity/models"
	id "identitystore/pkg/domain"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists identities and opt-outs in PostgreSQL. Details live in a
// JSONB column so address containment and path filters run in SQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Identities() *PostgresIdentities { return &PostgresIdentities{s.db} }

func (s *Postgres) OptOuts() *PostgresOptOuts { return &PostgresOptOuts{s.db} }

// RunInTx joins an open transaction in ctx or starts a new one.
func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}

type PostgresIdentities struct {
	db *sql.DB
}

const identityColumns = `id, version, details, communicate_through_id, operator_id, created_at, updated_at, created_by, updated_by`

func (r *PostgresIdentities) Create(ctx context.Context, identity *models.Identity) error {
	details, err := json.Marshal(identity.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, r.db).ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.Version,
		string(details),
		nullIdentity(identity.CommunicateThrough),
		nullIdentity(identity.Operator),
		identity.CreatedAt,
		identity.UpdatedAt,
		nullUser(identity.CreatedBy),
		nullUser(identity.UpdatedBy),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("identity %s: %w", identity.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *PostgresIdentities) Update(ctx context.Context, identity *models.Identity) error {
	details, err := json.Marshal(identity.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	query := `
		UPDATE identities
		SET version = $2, details = $3::jsonb, communicate_through_id = $4, operator_id = $5,
		    updated_at = $6, updated_by = $7
		WHERE id = $1
	`
	res, err := tx.Exec(ctx, r.db).ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.Version,
		string(details),
		nullIdentity(identity.CommunicateThrough),
		nullIdentity(identity.Operator),
		identity.UpdatedAt,
		nullUser(identity.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresIdentities) Delete(ctx context.Context, identityID id.IdentityID) error {
	res, err := tx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, uuid.UUID(identityID))
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresIdentities) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, identityID)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (r *PostgresIdentities) FindByIDForUpdate(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE`, identityID)
}

func (r *PostgresIdentities) findOne(ctx context.Context, query string, identityID id.IdentityID) (*models.Identity, error) {
	row := tx.Exec(ctx, r.db).QueryRowContext(ctx, query, uuid.UUID(identityID))
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return identity, nil
}

func (r *PostgresIdentities) FindByAddress(ctx context.Context, addrType, address string, limit int) ([]*models.Identity, error) {
	contains, err := addressContainment(addrType, address)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + identityColumns + ` FROM identities WHERE details @> $1::jsonb ORDER BY created_at, id`
	args := []any{contains}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := tx.Exec(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find identities by address: %w", err)
	}
	defer rows.Close()
	return scanIdentities(rows)
}

func (r *PostgresIdentities) List(ctx context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error) {
	where, args, err := identityWhere(filter)
	if err != nil {
		return nil, 0, err
	}
	exec := tx.Exec(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	query := `SELECT ` + identityColumns + ` FROM identities` + where +
		fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limitArg(filter.Page), filter.Offset)
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()
	identities, err := scanIdentities(rows)
	if err != nil {
		return nil, 0, err
	}
	return identities, total, nil
}

// limitArg binds a non-positive limit as NULL, which Postgres reads as LIMIT ALL.
func limitArg(page models.Page) any {
	if page.Limit <= 0 {
		return nil
	}
	return page.Limit
}

func (r *PostgresIdentities) Count(ctx context.Context) (int, error) {
	var n int
	if err := tx.Exec(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// identityWhere renders the filter as a WHERE clause with positional args.
func identityWhere(filter models.IdentityFilter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	for _, ref := range filter.Addresses {
		contains, err := addressContainment(ref.Type, ref.Address)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "details @> "+next(contains)+"::jsonb")
	}
	for _, pf := range filter.Details {
		clauses = append(clauses, "details #>> "+next(pq.Array(pf.Path))+" = "+next(pf.Value))
	}
	if filter.Version != nil {
		clauses = append(clauses, "version = "+next(*filter.Version))
	}
	if filter.OptOutType != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM optouts o WHERE o.identity_id = identities.id AND o.optout_type = "+
			next(string(filter.OptOutType))+")")
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func addressContainment(addrType, address string) (string, error) {
	doc := map[string]any{
		"addresses": map[string]any{
			addrType: map[string]any{address: map[string]any{}},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal address filter: %w", err)
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		identityID         uuid.UUID
		details            []byte
		communicateThrough uuid.NullUUID
		operator           uuid.NullUUID
		createdBy          uuid.NullUUID
		updatedBy          uuid.NullUUID
		identity           models.Identity
	)
	err := row.Scan(&identityID, &identity.Version, &details, &communicateThrough, &operator,
		&identity.CreatedAt, &identity.UpdatedAt, &createdBy, &updatedBy)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &identity.Details); err != nil {
		return nil, fmt.Errorf("decode details of identity %s: %w", identityID, err)
	}
	identity.ID = id.IdentityID(identityID)
	identity.CommunicateThrough = identityFromNull(communicateThrough)
	identity.Operator = identityFromNull(operator)
	identity.CreatedBy = userFromNull(createdBy)
	identity.UpdatedBy = userFromNull(updatedBy)
	return &identity, nil
}

func scanIdentities(rows *sql.Rows) ([]*models.Identity, error) {
	identities := []*models.Identity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

type PostgresOptOuts struct {
	db *sql.DB
}

const optoutColumns = `id, identity_id, optout_type, address_type, address, request_source, requestor_source_id, reason, created_at, created_by`

func (r *PostgresOptOuts) Create(ctx context.Context, optout *models.OptOut) error {
	query := `
		INSERT INTO optouts (` + optoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Exec(ctx, r.db).ExecContext(ctx, query,
		uuid.UUID(optout.ID),
		nullIdentity(optout.Identity),
		string(optout.OptOutType),
		optout.AddressType,
		optout.Address,
		optout.RequestSource,
		optout.RequestorSourceID,
		optout.Reason,
		optout.CreatedAt,
		nullUser(optout.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert optout: %w", err)
	}
	return nil
}

func (r *PostgresOptOuts) List(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Identity != nil {
		clauses = append(clauses, "identity_id = "+next(uuid.UUID(*filter.Identity)))
	}
	if filter.OptOutType != "" {
		clauses = append(clauses, "optout_type = "+next(string(filter.OptOutType)))
	}
	if filter.RequestSource != "" {
		clauses = append(clauses, "request_source = "+next(filter.RequestSource))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	exec := tx.Exec(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM optouts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count optouts: %w", err)
	}

	query := `SELECT ` + optoutColumns + ` FROM optouts` + where +
		fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limitArg(filter.Page), filter.Offset)
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list optouts: %w", err)
	}
	defer rows.Close()

	optouts := []*models.OptOut{}
	for rows.Next() {
		var (
			optoutID   uuid.UUID
			identityID uuid.NullUUID
			kind       string
			createdBy  uuid.NullUUID
			o          models.OptOut
		)
		if err := rows.Scan(&optoutID, &identityID, &kind, &o.AddressType, &o.Address, &o.RequestSource,
			&o.RequestorSourceID, &o.Reason, &o.CreatedAt, &createdBy); err != nil {
			return nil, 0, fmt.Errorf("scan optout: %w", err)
		}
		o.ID = id.OptOutID(optoutID)
		o.Identity = identityFromNull(identityID)
		o.OptOutType = models.OptOutType(kind)
		o.CreatedBy = userFromNull(createdBy)
		optouts = append(optouts, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate optouts: %w", err)
	}
	return optouts, total, nil
}

func (r *PostgresOptOuts) Count(ctx context.Context) (int, error) {
	var n int
	if err := tx.Exec(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM optouts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count optouts: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullIdentity(v *id.IdentityID) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func nullUser(v *id.UserID) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func identityFromNull(v uuid.NullUUID) *id.IdentityID {
	if !v.Valid {
		return nil
	}
	identityID := id.IdentityID(v.UUID)
	return &identityID
}

func userFromNull(v uuid.NullUUID) *id.UserID {
	if !v.Valid {
		return nil
	}
	userID := id.UserID(v.UUID)
	return &userID
}
