// Package mongo provides a MongoDB implementation of index.Handle.
//
// Each document is stored with its docid as _id. A text index over the
// subject, bodies and attachment text serves full-text queries.
package mongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Dialer prepares a collection on a caller-owned client.
type Dialer struct {
	client *mongo.Client
	opts   *options
}

// Ensure Dialer implements index.Dialer.
var _ index.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer for the provided client.
// The caller is responsible for disconnecting the client.
func NewDialer(client *mongo.Client, opts ...Option) *Dialer {
	return &Dialer{client: client, opts: newOptions(opts...)}
}

// Dial pings the deployment and ensures the collection indexes.
func (d *Dialer) Dial(ctx context.Context) (index.Handle, error) {
	if d.client == nil {
		return nil, errors.New("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.timeout)
	defer cancel()

	if err := d.client.Ping(ctx, nil); err != nil {
		return nil, classify("ping", err)
	}

	s := &Store{
		collection: d.client.Database(d.opts.database).Collection(d.opts.collection),
		opts:       d.opts,
		logger:     d.opts.logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, classify("ensure indexes", err)
	}

	s.logger.Info("connected to MongoDB", "database", d.opts.database, "collection", d.opts.collection)
	return s, nil
}

// Store implements index.Handle using MongoDB.
type Store struct {
	collection *mongo.Collection
	opts       *options
	logger     *slog.Logger
	closed     int32
}

// Ensure Store implements index.Handle.
var _ index.Handle = (*Store)(nil)

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mailbox_id", Value: 1}, {Key: "uid", Value: 1}}},
		{Keys: bson.D{{Key: "users", Value: 1}}},
		{Keys: bson.D{{Key: "internal_date", Value: -1}}},
		{
			Keys: bson.D{
				{Key: "subject", Value: "text"},
				{Key: "text_body", Value: "text"},
				{Key: "html_body", Value: "text"},
				{Key: "attachments.text_content", Value: "text"},
			},
			Options: mongoopts.Index().SetName("full_text"),
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// UpsertOne creates or replaces a document.
func (s *Store) UpsertOne(ctx context.Context, doc index.Document) error {
	ids := []docid.ID{doc.ID}
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}
	fields, err := toBSON(doc.Content)
	if err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}
	fields = append(bson.D{{Key: "_id", Value: string(doc.ID)}}, withoutID(fields)...)

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err = s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: string(doc.ID)}},
		fields,
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, classify("replace", err))
	}
	return nil
}

// UpsertMany merges partial documents in one ordered bulk write.
// Updates never create documents.
func (s *Store) UpsertMany(ctx context.Context, updates []index.PartialUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := index.UpdateIDs(updates)
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, err)
	}

	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		fields, err := toBSON(u.Content)
		if err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, fmt.Errorf("item %s: %w", u.ID, err))
		}
		fields = withoutID(fields)
		if len(fields) == 0 {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: string(u.ID)}}).
			SetUpdate(bson.D{{Key: "$set", Value: fields}}))
	}
	if len(models) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(true)); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, classify("bulk write", err))
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

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: docid.Strings(ids)}}}}
	if _, err := s.collection.DeleteMany(ctx, filter); err != nil {
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

	res, err := s.collection.DeleteMany(ctx, bson.D{{Key: "mailbox_id", Value: q.MailboxID.String()}})
	if err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, classify("delete", err))
	}
	s.logger.Debug("deleted mailbox documents", "mailbox_id", q.MailboxID, "deleted", res.DeletedCount)
	return nil
}

// Close marks the handle as closed.
// The caller is responsible for disconnecting the client.
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

// toBSON converts a JSON object into an ordered BSON document.
func toBSON(content json.RawMessage) (bson.D, error) {
	if !json.Valid(content) {
		return nil, errors.New("mongo: content is not valid JSON")
	}
	if trimmed := bytes.TrimSpace(content); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("mongo: content is not a JSON object")
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(content, false, &doc); err != nil {
		return nil, fmt.Errorf("mongo: content is not a JSON object: %w", err)
	}
	return doc, nil
}

func withoutID(doc bson.D) bson.D {
	out := doc[:0:0]
	for _, e := range doc {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return out
}

// classify wraps failures that mean no server could be selected.
func classify(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) || index.IsNoNodeAvailable(err) {
		return index.NoNodeAvailable(fmt.Errorf("mongo %s: %w", op, err))
	}
	return fmt.Errorf("mongo %s: %w", op, err)
}
