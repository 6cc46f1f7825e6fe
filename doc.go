// Package mailsearch keeps a search index in step with a mailbox store.
//
// The index is a derived, eventually consistent projection of the store.
// A [Listener] translates committed store changes (append, flag change,
// expunge, mailbox deletion) into index writes. Index failures never reach
// the store: they are logged, counted and reported to [FailureHook]
// plugins.
//
// # Basic Usage
//
//	es := elastic.NewDialer(elastic.WithAddresses("http://es:9200"))
//
//	svc, err := mailsearch.NewService(
//	    mailsearch.WithDialer(es),
//	    mailsearch.WithRedisClient(redisClient),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect retries while no index node is reachable.
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
// # Documents
//
// Each message is stored under "<mailboxId>:<uid>" (see package docid).
// Documents are produced by package content in two tiers: the full tier
// includes text extracted from attachments, the reduced tier leaves it
// out and is used when the full tier fails.
//
// # Index Backends
//
// The index package defines the gateway. Implementations:
//   - Elasticsearch (index/elastic)
//   - MongoDB (index/mongo) - accepts *mongo.Client
//   - PostgreSQL (index/postgres) - accepts *sqlx.DB
//   - In-memory (index/memory) - for testing
//
// # Events
//
// Stores that cannot call the listener directly publish typed events
// through github.com/rbaliyan/event/v3. The service subscribes during
// Connect:
//
//	svc.Events().MessageAdded.Publish(ctx, mailsearch.MessageAddedEvent{...})
//
// Stores in the same process can call the listener synchronously:
//
//	l, _ := svc.Listener()
//	l.Add(ctx, session, mailbox, msg)
package mailsearch
