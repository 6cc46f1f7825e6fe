// Package postgres provides a PostgreSQL implementation of index.Handle.
//
// Documents are kept as JSONB rows keyed by docid with the mailbox id in
// its own column, so scope deletes use a plain btree index. Partial updates
// use the jsonb concatenation operator and run in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
)

// Dialer prepares the document table on a caller-owned connection pool.
type Dialer struct {
	db   *sqlx.DB
	opts *options
}

// Ensure Dialer implements index.Dialer.
var _ index.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer for the provided database.
// The caller is responsible for closing it.
func NewDialer(db *sqlx.DB, opts ...Option) *Dialer {
	return &Dialer{db: db, opts: newOptions(opts...)}
}

// NewDialerFromDB wraps a standard sql.DB with sqlx.
func NewDialerFromDB(db *sql.DB, opts ...Option) *Dialer {
	return NewDialer(sqlx.NewDb(db, "postgres"), opts...)
}

// Dial pings the database and ensures the schema.
func (d *Dialer) Dial(ctx context.Context) (index.Handle, error) {
	if d.db == nil {
		return nil, errors.New("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.timeout)
	defer cancel()

	if err := d.db.PingContext(ctx); err != nil {
		return nil, classify("ping", err)
	}

	s := &Store{
		db:     d.db,
		table:  pq.QuoteIdentifier(d.opts.table),
		opts:   d.opts,
		logger: d.opts.logger,
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, classify("ensure schema", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", d.opts.table)
	return s, nil
}

// Store implements index.Handle using PostgreSQL.
type Store struct {
	db     *sqlx.DB
	table  string // quoted
	opts   *options
	logger *slog.Logger
	closed int32
}

// Ensure Store implements index.Handle.
var _ index.Handle = (*Store)(nil)

func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			mailbox_id TEXT NOT NULL,
			content JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.table)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	name := s.opts.table
	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(mailbox_id)`,
			pq.QuoteIdentifier("idx_"+name+"_mailbox"), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN(content jsonb_path_ops)`,
			pq.QuoteIdentifier("idx_"+name+"_content"), s.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

// UpsertOne creates or replaces a document.
func (s *Store) UpsertOne(ctx context.Context, doc index.Document) error {
	ids := []docid.ID{doc.ID}
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}
	mailboxID, _, err := docid.Decode(doc.ID)
	if err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}
	if err := checkObject(doc.Content); err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, mailbox_id, content, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET
			mailbox_id = EXCLUDED.mailbox_id,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
	`, s.table)
	if _, err := s.db.ExecContext(ctx, query, string(doc.ID), mailboxID.String(), string(doc.Content)); err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, classify("upsert", err))
	}
	return nil
}

// UpsertMany merges partial documents into existing rows in one transaction.
// Rows that do not exist are not created.
func (s *Store) UpsertMany(ctx context.Context, updates []index.PartialUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := index.UpdateIDs(updates)
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, err)
	}
	for _, u := range updates {
		if err := checkObject(u.Content); err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, fmt.Errorf("item %s: %w", u.ID, err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, classify("begin", err))
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		UPDATE %s SET content = content || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, s.table)
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, classify("prepare", err))
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, string(u.ID), string(u.Content)); err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, fmt.Errorf("item %s: %w", u.ID, classify("update", err)))
		}
	}
	if err := tx.Commit(); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, classify("commit", err))
	}
	return nil
}

// DeleteMany removes documents by id.
func (s *Store) DeleteMany(ctx context.Context, ids []docid.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteMany, ids, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	if _, err := s.db.ExecContext(ctx, query, pq.Array(docid.Strings(ids))); err != nil {
		return index.NewWriteError(index.OpDeleteMany, ids, classify("delete", err))
	}
	return nil
}

// DeleteByScope removes every document of the scoped mailbox.
func (s *Store) DeleteByScope(ctx context.Context, q index.ScopeQuery) error {
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, q.MailboxID.String())
	if err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, classify("delete", err))
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("deleted mailbox documents", "mailbox_id", q.MailboxID, "deleted", n)
	return nil
}

// Close marks the handle as closed.
// The caller is responsible for closing the database.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}

func (s *Store) checkOpen() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return index.ErrClosed
	}
	return nil
}

func checkObject(content json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil || obj == nil {
		return errors.New("postgres: content is not a JSON object")
	}
	return nil
}

// classify wraps failures that mean the server could not be reached.
// SQLSTATE class 08 is connection exception; 57P03 is cannot_connect_now.
func classify(op string, err error) error {
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && (pqErr.Code.Class() == "08" || pqErr.Code == "57P03"):
		return index.NoNodeAvailable(fmt.Errorf("postgres %s: %w", op, err))
	case errors.Is(err, driver.ErrBadConn), index.IsNoNodeAvailable(err):
		return index.NoNodeAvailable(fmt.Errorf("postgres %s: %w", op, err))
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
