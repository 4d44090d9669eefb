package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS emails (
    account      TEXT        NOT NULL,
    id           TEXT        NOT NULL,
    uid          BIGINT      NOT NULL DEFAULT 0,
    from_addr    TEXT        NOT NULL DEFAULT '',
    to_addr      TEXT        NOT NULL DEFAULT '',
    subject      TEXT        NOT NULL DEFAULT '',
    body         TEXT        NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ NOT NULL,
    category     TEXT        NOT NULL,
    folder       TEXT        NOT NULL,
    read         BOOLEAN     NOT NULL DEFAULT FALSE,
    fingerprint  TEXT        NOT NULL DEFAULT '',
    indexed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (account, id)
);
CREATE INDEX IF NOT EXISTS emails_received_at_idx ON emails (received_at DESC);
CREATE INDEX IF NOT EXISTS emails_account_folder_idx ON emails (account, folder);
CREATE INDEX IF NOT EXISTS emails_category_idx ON emails (category);
`

const selectColumns = `account, id, uid, from_addr, to_addr, subject, body, received_at, category, folder, read, fingerprint`

// PostgresStore keeps messages in the emails table.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema creates the emails table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Index(ctx context.Context, msg *model.Message) (err error) {
	defer observe("index", time.Now(), &err)

	query := `
        INSERT INTO emails (account, id, uid, from_addr, to_addr, subject, body, received_at, category, folder, read, fingerprint)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (account, id) DO UPDATE SET
            uid = EXCLUDED.uid,
            from_addr = EXCLUDED.from_addr,
            to_addr = EXCLUDED.to_addr,
            subject = EXCLUDED.subject,
            body = EXCLUDED.body,
            received_at = EXCLUDED.received_at,
            category = EXCLUDED.category,
            folder = EXCLUDED.folder,
            read = emails.read OR EXCLUDED.read,
            fingerprint = EXCLUDED.fingerprint,
            indexed_at = NOW()
    `
	_, err = s.db.Exec(ctx, query,
		msg.Account,
		msg.ID,
		int64(msg.UID),
		msg.From,
		msg.To,
		msg.Subject,
		msg.Body,
		msg.ReceivedAt,
		string(msg.Category),
		string(msg.Folder),
		msg.Read,
		msg.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", msg.Account, msg.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, account, id string) (_ *model.Message, err error) {
	defer observe("get", time.Now(), &err)

	query := `SELECT ` + selectColumns + ` FROM emails WHERE account = $1 AND id = $2`
	msg, err := scanMessage(s.db.QueryRow(ctx, query, account, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", account, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", account, id, err)
	}
	return msg, nil
}

func (s *PostgresStore) Search(ctx context.Context, q Query) (_ []model.Message, err error) {
	defer observe("search", time.Now(), &err)

	sql, args := buildSearch(q)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("search scan: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return out, nil
}

// buildSearch renders q as a parameterised SELECT.
func buildSearch(q Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Term != "" {
		p := arg(q.Term)
		where = append(where, fmt.Sprintf("(strpos(lower(subject), lower(%s)) > 0 OR strpos(lower(body), lower(%s)) > 0)", p, p))
	}
	if q.Account != "" {
		where = append(where, "account = "+arg(q.Account))
	}
	if q.Folder != "" {
		where = append(where, "folder = "+arg(string(q.Folder)))
	}
	if q.Category != "" {
		where = append(where, "category = "+arg(string(q.Category)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM emails")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY received_at DESC, id")
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + arg(q.Limit))
	}
	return b.String(), args
}

func (s *PostgresStore) SetCategory(ctx context.Context, account, id string, c model.Category) (_ model.Category, err error) {
	defer observe("set_category", time.Now(), &err)

	if !c.Valid() {
		return "", fmt.Errorf("set category: %w: %q", model.ErrUnknownCategory, c)
	}

	query := `
        UPDATE emails e
        SET category = $3
        FROM (SELECT category FROM emails WHERE account = $1 AND id = $2 FOR UPDATE) prev
        WHERE e.account = $1 AND e.id = $2
        RETURNING prev.category
    `
	var prev string
	err = s.db.QueryRow(ctx, query, account, id, string(c)).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("set category %s/%s: %w", account, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("set category %s/%s: %w", account, id, err)
	}
	return model.Category(prev), nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, account, id string) (err error) {
	defer observe("mark_read", time.Now(), &err)

	tag, err := s.db.Exec(ctx, `UPDATE emails SET read = TRUE WHERE account = $1 AND id = $2`, account, id)
	if err != nil {
		return fmt.Errorf("mark read %s/%s: %w", account, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark read %s/%s: %w", account, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg      model.Message
		uid      int64
		category string
		folder   string
	)
	err := row.Scan(
		&msg.Account,
		&msg.ID,
		&uid,
		&msg.From,
		&msg.To,
		&msg.Subject,
		&msg.Body,
		&msg.ReceivedAt,
		&category,
		&folder,
		&msg.Read,
		&msg.Fingerprint,
	)
	if err != nil {
		return nil, err
	}
	msg.UID = uint32(uid)
	msg.Category = model.Category(category)
	msg.Folder = model.Folder(folder)
	return &msg, nil
}

func observe(op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	metrics.RecordStoreQuery(op, e, time.Since(start))
}
