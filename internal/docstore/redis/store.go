// Package redis keeps each collection in a Redis hash and announces changes
// on a pub/sub channel so every process can refresh its subscribers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/docstore"
)

// Ensure Store satisfies the docstore.Store interface at compile time.
var _ docstore.Store = (*Store)(nil)

const (
	keyPrefix      = "docstore:"
	changesChannel = "docstore:changes"
	maxTxRetries   = 16
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// envelope is the stored hash value.
type envelope struct {
	CreatedAt int64           `json:"createdAt"`
	Data      docstore.Fields `json:"data"`
}

// Store provides Redis-backed document persistence.
type Store struct {
	client *redis.Client
	hub    *docstore.Hub
	log    *zap.Logger
	closed atomic.Bool

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// New connects to Redis and starts the change listener.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &Store{client: client, hub: docstore.NewHub(), log: logger.Named("docstore.redis")}
	s.pubsub = client.Subscribe(context.Background(), changesChannel)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}
	s.wg.Add(1)
	go s.listen()
	return s, nil
}

// Close stops the listener, cancels subscriptions and closes the client.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.pubsub.Close()
	s.wg.Wait()
	s.hub.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if s.closed.Load() {
		return docstore.Document{}, docstore.ErrUnavailable
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	raw, err := s.client.HGet(ctx, keyPrefix+collection, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Path: path, Data: env.Data}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if s.closed.Load() {
		return nil, docstore.ErrUnavailable
	}
	all, err := s.client.HGetAll(ctx, keyPrefix+collection).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	type row struct {
		id  string
		env envelope
	}
	rows := make([]row, 0, len(all))
	for id, raw := range all {
		env, err := decodeEnvelope([]byte(raw))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row{id: id, env: env})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].env.CreatedAt != rows[j].env.CreatedAt {
			return rows[i].env.CreatedAt < rows[j].env.CreatedAt
		}
		return rows[i].id < rows[j].id
	})
	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, docstore.Document{ID: r.id, Path: docstore.Join(collection, r.id), Data: r.env.Data})
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
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{CreatedAt: time.Now().UnixNano(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	// The announcement rides in the same transaction as the write. A losing
	// create also announces; subscribers just re-read an unchanged collection.
	var created *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, keyPrefix+collection, id, raw)
		pipe.Publish(ctx, changesChannel, collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if !created.Val() {
		return docstore.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Fields, opts ...docstore.SetOption) error {
	merge := docstore.ApplySetOptions(opts).Merge
	return s.readModifyWrite(ctx, path, func(cur envelope, exists bool) (envelope, error) {
		if !exists {
			return envelope{CreatedAt: time.Now().UnixNano(), Data: data}, nil
		}
		if merge {
			cur.Data = docstore.MergeInto(cur.Data, data)
		} else {
			cur.Data = data
		}
		return cur, nil
	})
}

func (s *Store) Update(ctx context.Context, path string, data docstore.Fields) error {
	return s.readModifyWrite(ctx, path, func(cur envelope, exists bool) (envelope, error) {
		if !exists {
			return cur, docstore.ErrNotFound
		}
		cur.Data = docstore.MergeInto(cur.Data, data)
		return cur, nil
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, keyPrefix+collection, id)
		pipe.Publish(ctx, changesChannel, collection)
		return nil
	})
	if err != nil {
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
	return s.client.Ping(ctx).Err()
}

// readModifyWrite applies fn under WATCH so concurrent merges of the same
// collection retry instead of losing fields.
func (s *Store) readModifyWrite(ctx context.Context, path string, fn func(cur envelope, exists bool) (envelope, error)) error {
	if s.closed.Load() {
		return docstore.ErrUnavailable
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	key := keyPrefix + collection

	txf := func(tx *redis.Tx) error {
		var (
			cur    envelope
			exists bool
		)
		raw, err := tx.HGet(ctx, key, id).Bytes()
		switch {
		case err == nil:
			if cur, err = decodeEnvelope(raw); err != nil {
				return err
			}
			exists = true
		case !errors.Is(err, redis.Nil):
			return err
		}
		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, encoded)
			pipe.Publish(ctx, changesChannel, collection)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return err
	}
	return fmt.Errorf("write %s: too much contention", path)
}

// listen republishes announced collections to local subscribers. Messages
// are handled one at a time, preserving announcement order.
func (s *Store) listen() {
	defer s.wg.Done()
	for msg := range s.pubsub.Channel() {
		collection := msg.Payload
		if !s.hub.Watched(collection) {
			continue
		}
		snap, err := s.hub.Read(collection, func() ([]docstore.Document, error) {
			return s.List(context.Background(), collection)
		})
		if err != nil {
			s.log.Warn("refresh collection failed", zap.String("collection", collection), zap.Error(err))
			s.hub.Fail(collection, err)
			continue
		}
		s.hub.PublishSnapshot(snap)
	}
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode document: %w", err)
	}
	if env.Data == nil {
		env.Data = docstore.Fields{}
	}
	return env, nil
}
