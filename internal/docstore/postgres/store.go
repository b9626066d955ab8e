// Package postgres stores documents as JSONB rows and turns row changes
// into collection snapshots through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/docstore"
)

// Ensure Store satisfies the docstore.Store interface at compile time.
var _ docstore.Store = (*Store)(nil)

const notifyChannel = "docstore_changes"

// Store provides Postgres-backed document persistence.
type Store struct {
	pool   *pgxpool.Pool
	hub    *docstore.Hub
	log    *zap.Logger
	closed atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects, runs migrations and starts the change listener.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool, hub: docstore.NewHub(), log: logger.Named("docstore.postgres")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.listen(listenCtx)

	return s, nil
}

// Close stops the listener, cancels subscriptions and releases the pool.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.hub.Close()
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, created_at, doc_id);`,
		`CREATE OR REPLACE FUNCTION documents_notify_change() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify('docstore_changes', OLD.collection);
			ELSE
				PERFORM pg_notify('docstore_changes', NEW.collection);
			END IF;
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS documents_notify ON documents;`,
		`CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE OR DELETE ON documents
			FOR EACH ROW EXECUTE FUNCTION documents_notify_change();`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if s.closed.Load() {
		return docstore.Document{}, docstore.ErrUnavailable
	}
	_, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	var raw []byte
	err = s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	data, err := decodeFields(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Path: path, Data: data}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if s.closed.Load() {
		return nil, docstore.ErrUnavailable
	}
	const query = `
	SELECT doc_id, data
	FROM documents
	WHERE collection = $1
	ORDER BY created_at, doc_id;
	`
	rows, err := s.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		data, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: id, Path: docstore.Join(collection, id), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	id := docstore.NewID()
	if err := s.Create(ctx, docstore.Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Create(ctx context.Context, path string, data docstore.Fields) error {
	const query = `
	INSERT INTO documents (path, collection, doc_id, data)
	VALUES ($1, $2, $3, $4::jsonb);
	`
	err := s.write(ctx, path, data, query)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return docstore.ErrAlreadyExists
	}
	return err
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Fields, opts ...docstore.SetOption) error {
	query := `
	INSERT INTO documents (path, collection, doc_id, data)
	VALUES ($1, $2, $3, $4::jsonb)
	ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW();
	`
	if docstore.ApplySetOptions(opts).Merge {
		query = `
		INSERT INTO documents (path, collection, doc_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW();
		`
	}
	return s.write(ctx, path, data, query)
}

func (s *Store) Update(ctx context.Context, path string, data docstore.Fields) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $2::jsonb, updated_at = NOW() WHERE path = $1`,
		path, string(raw))
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string) (*docstore.Subscription, error) {
	if s.closed.Load() {
		return nil, docstore.ErrUnavailable
	}
	sub := s.hub.Add(ctx, collection)
	snap, err := s.hub.Read(collection, func() ([]docstore.Document, error) {
		return s.List(ctx, collection)
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	s.hub.DeliverSnapshot(sub, snap)
	return sub, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	return s.pool.Ping(ctx)
}

func (s *Store) write(ctx context.Context, path string, data docstore.Fields, query string) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := s.pool.Exec(ctx, query, path, collection, id, string(raw)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// listen holds one connection in LISTEN mode and republishes the changed
// collection to its subscribers. Notifications are handled one at a time,
// so snapshots of a collection are published in commit order.
func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("change listener interrupted", zap.Error(err))
		for _, c := range s.hub.Collections() {
			s.hub.Fail(c, fmt.Errorf("change feed: %w", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Anything committed while the listener was down is re-read once.
	for _, c := range s.hub.Collections() {
		s.refresh(ctx, c)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.refresh(ctx, n.Payload)
	}
}

func (s *Store) refresh(ctx context.Context, collection string) {
	if !s.hub.Watched(collection) {
		return
	}
	snap, err := s.hub.Read(collection, func() ([]docstore.Document, error) {
		return s.List(ctx, collection)
	})
	if err != nil {
		s.hub.Fail(collection, err)
		return
	}
	s.hub.PublishSnapshot(snap)
}

func decodeFields(raw []byte) (docstore.Fields, error) {
	var data docstore.Fields
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if data == nil {
		data = docstore.Fields{}
	}
	return data, nil
}
