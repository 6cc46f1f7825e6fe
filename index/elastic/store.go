// Package elastic provides an Elasticsearch implementation of index.Handle.
//
// Documents are stored in a single index keyed by their docid. Dial pings
// the cluster and creates the index with the configured shard and replica
// counts and the document mapping if it does not exist yet.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rbaliyan/mailsearch/docid"
	"github.com/rbaliyan/mailsearch/index"
)

// Dialer connects to an Elasticsearch cluster.
type Dialer struct {
	opts *options
}

// Ensure Dialer implements index.Dialer.
var _ index.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer. No connection is made until Dial.
func NewDialer(opts ...Option) *Dialer {
	return &Dialer{opts: newOptions(opts...)}
}

// Dial creates a client, checks that a node answers and ensures the index
// exists. Unreachable clusters are reported with index.ErrNoNodeAvailable.
func (d *Dialer) Dial(ctx context.Context) (index.Handle, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    d.opts.addresses,
		Username:     d.opts.username,
		Password:     d.opts.password,
		Transport:    d.opts.transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}

	s := &Store{
		es:     es,
		opts:   d.opts,
		logger: d.opts.logger,
	}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("connected to Elasticsearch", "index", d.opts.index, "addresses", d.opts.addresses)
	return s, nil
}

// Store implements index.Handle using Elasticsearch.
type Store struct {
	es     *elasticsearch.Client
	opts   *options
	logger *slog.Logger
	closed int32
}

// Ensure Store implements index.Handle.
var _ index.Handle = (*Store)(nil)

func (s *Store) ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.es.Info(s.es.Info.WithContext(callCtx))
	if err != nil {
		return classifyDial(ctx, err)
	}
	defer drain(res)

	if unavailable(res.StatusCode) {
		return index.NoNodeAvailable(fmt.Errorf("elastic: info: status %d", res.StatusCode))
	}
	if res.IsError() {
		return fmt.Errorf("elastic: info: %w", decodeError(res))
	}
	return nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.es.Indices.Exists([]string{s.opts.index}, s.es.Indices.Exists.WithContext(callCtx))
	if err != nil {
		return classifyDial(ctx, err)
	}
	drain(res)
	switch {
	case res.StatusCode == http.StatusOK:
		return nil
	case unavailable(res.StatusCode):
		return index.NoNodeAvailable(fmt.Errorf("elastic: index exists: status %d", res.StatusCode))
	case res.StatusCode != http.StatusNotFound:
		return fmt.Errorf("elastic: index exists: status %d", res.StatusCode)
	}

	body, err := indexBody(s.opts.shards, s.opts.replicas)
	if err != nil {
		return fmt.Errorf("elastic: build mapping: %w", err)
	}
	res, err = s.es.Indices.Create(s.opts.index,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(callCtx),
	)
	if err != nil {
		return classifyDial(ctx, err)
	}
	defer drain(res)

	if res.IsError() {
		e := decodeError(res)
		var ee *ResponseError
		if errors.As(e, &ee) && ee.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("elastic: create index: %w", e)
	}
	s.logger.Info("created index", "index", s.opts.index, "shards", s.opts.shards, "replicas", s.opts.replicas)
	return nil
}

// UpsertOne creates or replaces a document.
func (s *Store) UpsertOne(ctx context.Context, doc index.Document) error {
	ids := []docid.ID{doc.ID}
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithDocumentID(string(doc.ID)),
		s.es.Index.WithContext(ctx),
	}
	if s.opts.refresh != "" {
		opts = append(opts, s.es.Index.WithRefresh(s.opts.refresh))
	}

	res, err := s.es.Index(s.opts.index, bytes.NewReader(doc.Content), opts...)
	if err != nil {
		return index.NewWriteError(index.OpUpsertOne, ids, classify(err))
	}
	defer drain(res)

	if res.IsError() {
		return index.NewWriteError(index.OpUpsertOne, ids, decodeError(res))
	}
	return nil
}

// UpsertMany merges partial documents in a single bulk request.
// Updates for missing documents are skipped; any other item failure fails
// the whole batch.
func (s *Store) UpsertMany(ctx context.Context, updates []index.PartialUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := index.UpdateIDs(updates)
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, err)
	}

	var buf bytes.Buffer
	for _, u := range updates {
		if err := writeAction(&buf, "update", u.ID); err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, err)
		}
		if err := writeLine(&buf, partialDoc{Doc: u.Content}); err != nil {
			return index.NewWriteError(index.OpUpsertMany, ids, fmt.Errorf("item %s: %w", u.ID, err))
		}
	}

	if err := s.bulk(ctx, &buf, "update"); err != nil {
		return index.NewWriteError(index.OpUpsertMany, ids, err)
	}
	return nil
}

// DeleteMany removes documents in a single bulk request.
func (s *Store) DeleteMany(ctx context.Context, ids []docid.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteMany, ids, err)
	}

	var buf bytes.Buffer
	for _, id := range ids {
		if err := writeAction(&buf, "delete", id); err != nil {
			return index.NewWriteError(index.OpDeleteMany, ids, err)
		}
	}

	if err := s.bulk(ctx, &buf, "delete"); err != nil {
		return index.NewWriteError(index.OpDeleteMany, ids, err)
	}
	return nil
}

// DeleteByScope removes every document of the scoped mailbox.
func (s *Store) DeleteByScope(ctx context.Context, q index.ScopeQuery) error {
	if err := s.checkOpen(); err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, err)
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"mailbox_id": q.MailboxID.String()},
		},
	})
	if err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := []func(*esapi.DeleteByQueryRequest){
		s.es.DeleteByQuery.WithConflicts("proceed"),
		s.es.DeleteByQuery.WithContext(ctx),
	}
	if s.opts.refresh == "true" {
		opts = append(opts, s.es.DeleteByQuery.WithRefresh(true))
	}

	res, err := s.es.DeleteByQuery([]string{s.opts.index}, bytes.NewReader(body), opts...)
	if err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, classify(err))
	}
	defer drain(res)

	if res.IsError() {
		return index.NewWriteError(index.OpDeleteByScope, nil, decodeError(res))
	}

	var out struct {
		Deleted  int64             `json:"deleted"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return index.NewWriteError(index.OpDeleteByScope, nil, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Failures) > 0 {
		return index.NewWriteError(index.OpDeleteByScope, nil,
			fmt.Errorf("%d delete-by-query failures: %s", len(out.Failures), out.Failures[0]))
	}
	s.logger.Debug("deleted mailbox documents", "mailbox_id", q.MailboxID, "deleted", out.Deleted)
	return nil
}

// Close marks the handle as closed.
// Idle connections of the default transport are released.
func (s *Store) Close(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if t, ok := s.opts.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (s *Store) checkOpen() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return index.ErrClosed
	}
	return nil
}

// bulk sends an NDJSON bulk body and checks every item result.
func (s *Store) bulk(ctx context.Context, body io.Reader, action string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := []func(*esapi.BulkRequest){
		s.es.Bulk.WithIndex(s.opts.index),
		s.es.Bulk.WithContext(ctx),
	}
	if s.opts.refresh != "" {
		opts = append(opts, s.es.Bulk.WithRefresh(s.opts.refresh))
	}

	res, err := s.es.Bulk(body, opts...)
	if err != nil {
		return classify(err)
	}
	defer drain(res)

	if res.IsError() {
		return decodeError(res)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	return out.failure(action)
}

type partialDoc struct {
	Doc json.RawMessage `json:"doc"`
}

func writeAction(buf *bytes.Buffer, action string, id docid.ID) error {
	return writeLine(buf, map[string]any{action: map[string]string{"_id": string(id)}})
}

func writeLine(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}

type bulkItem struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *ResponseError `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// failure returns the first item error that is not a missing document.
func (r *bulkResponse) failure(action string) error {
	for _, item := range r.Items {
		it, ok := item[action]
		if !ok || it.Error == nil {
			continue
		}
		if it.Status == http.StatusNotFound {
			continue
		}
		it.Error.Status = it.Status
		return fmt.Errorf("item %s: %w", it.ID, it.Error)
	}
	return nil
}

// ResponseError is an error reported by the cluster.
type ResponseError struct {
	Status int    `json:"status,omitempty"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *ResponseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("elastic: status %d: %s", e.Status, e.Type)
	}
	return fmt.Sprintf("elastic: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func decodeError(res *esapi.Response) error {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	e := &ResponseError{Status: res.StatusCode}
	if res.Body == nil {
		return e
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return e
	}
	// The error field is either an object or a plain string.
	if err := json.Unmarshal(body.Error, e); err != nil {
		_ = json.Unmarshal(body.Error, &e.Reason)
	}
	e.Status = res.StatusCode
	return e
}

// classify wraps transport failures that mean no node could be reached.
func classify(err error) error {
	if index.IsNoNodeAvailable(err) {
		return index.NoNodeAvailable(err)
	}
	return fmt.Errorf("elastic: %w", err)
}

// classifyDial is classify for startup calls. A node that accepts the
// connection but does not answer within the call timeout counts as
// unavailable while the caller's ctx is still live.
func classifyDial(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return index.NoNodeAvailable(fmt.Errorf("elastic: %w", err))
	}
	return classify(err)
}

func unavailable(status int) bool {
	return status == http.StatusServiceUnavailable || status == http.StatusBadGateway
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
