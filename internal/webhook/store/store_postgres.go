package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists subscriptions in the webhooks table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const webhookColumns = `id, user_id, event, target, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, hook *models.Webhook) error {
	query := `INSERT INTO webhooks (` + webhookColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(hook.ID), uuid.UUID(hook.UserID), string(hook.Event), hook.Target, hook.CreatedAt, hook.UpdatedAt)
	if err != nil {
		return writeError("insert webhook", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, hook *models.Webhook) error {
	query := `UPDATE webhooks SET event = $3, target = $4, updated_at = $5 WHERE id = $1 AND user_id = $2`
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(hook.ID), uuid.UUID(hook.UserID), string(hook.Event), hook.Target, hook.UpdatedAt)
	if err != nil {
		return writeError("update webhook", err)
	}
	return oneRow(res)
}

func (s *Postgres) Delete(ctx context.Context, owner id.UserID, webhookID id.WebhookID) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM webhooks WHERE id = $1 AND user_id = $2`, uuid.UUID(webhookID), uuid.UUID(owner))
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return oneRow(res)
}

func (s *Postgres) FindByID(ctx context.Context, owner id.UserID, webhookID id.WebhookID) (*models.Webhook, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 AND user_id = $2`, uuid.UUID(webhookID), uuid.UUID(owner))
	hook, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find webhook: %w", err)
	}
	return hook, nil
}

func (s *Postgres) ListByUser(ctx context.Context, owner id.UserID) ([]*models.Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE user_id = $1 ORDER BY created_at, id`, uuid.UUID(owner))
}

func (s *Postgres) ListByEvent(ctx context.Context, event models.Event) ([]*models.Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE event = $1 ORDER BY created_at, id`, string(event))
}

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]*models.Webhook, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	hooks := []*models.Webhook{}
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return hooks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row scanner) (*models.Webhook, error) {
	var (
		webhookID, owner uuid.UUID
		event            string
		hook             models.Webhook
	)
	if err := row.Scan(&webhookID, &owner, &event, &hook.Target, &hook.CreatedAt, &hook.UpdatedAt); err != nil {
		return nil, err
	}
	hook.ID = id.WebhookID(webhookID)
	hook.UserID = id.UserID(owner)
	hook.Event = models.Event(event)
	return &hook, nil
}

func writeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
