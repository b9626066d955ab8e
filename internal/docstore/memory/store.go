// Package memory is an in-process docstore backend. All mutations and
// snapshot fan-out happen under one lock, so every subscriber observes
// collection states in commit order.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hongminglow/flatkeeper/internal/docstore"
)

// Ensure Store satisfies the docstore.Store interface at compile time.
var _ docstore.Store = (*Store)(nil)

type entry struct {
	data    docstore.Fields
	created time.Time
}

// Store keeps documents in memory.
type Store struct {
	mu     sync.Mutex
	cols   map[string]map[string]entry
	hub    *docstore.Hub
	closed bool
	now    func() time.Time
}

// New returns an empty, open store.
func New() *Store {
	return &Store{
		cols: make(map[string]map[string]entry),
		hub:  docstore.NewHub(),
		now:  time.Now,
	}
}

func (s *Store) Get(_ context.Context, path string) (docstore.Document, error) {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrUnavailable
	}
	e, ok := s.cols[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Path: path, Data: e.data.Clone()}, nil
}

func (s *Store) List(_ context.Context, collection string) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrUnavailable
	}
	return s.listLocked(collection), nil
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	id := docstore.NewID()
	if err := s.Create(ctx, docstore.Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Create(_ context.Context, path string, data docstore.Fields) error {
	return s.mutate(path, func(cur entry, exists bool) (entry, bool, error) {
		if exists {
			return cur, false, docstore.ErrAlreadyExists
		}
		return entry{data: data.Clone(), created: s.now()}, true, nil
	})
}

func (s *Store) Set(_ context.Context, path string, data docstore.Fields, opts ...docstore.SetOption) error {
	o := docstore.ApplySetOptions(opts)
	return s.mutate(path, func(cur entry, exists bool) (entry, bool, error) {
		if !exists {
			return entry{data: data.Clone(), created: s.now()}, true, nil
		}
		if o.Merge {
			cur.data = docstore.MergeInto(cur.data.Clone(), data)
			return cur, true, nil
		}
		cur.data = data.Clone()
		return cur, true, nil
	})
}

func (s *Store) Update(_ context.Context, path string, data docstore.Fields) error {
	return s.mutate(path, func(cur entry, exists bool) (entry, bool, error) {
		if !exists {
			return cur, false, docstore.ErrNotFound
		}
		cur.data = docstore.MergeInto(cur.data.Clone(), data)
		return cur, true, nil
	})
}

func (s *Store) Delete(_ context.Context, path string) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrUnavailable
	}
	if _, ok := s.cols[collection][id]; !ok {
		return nil
	}
	delete(s.cols[collection], id)
	s.hub.Publish(collection, s.listLocked(collection))
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string) (*docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrUnavailable
	}
	sub := s.hub.Add(ctx, collection)
	snap, _ := s.hub.Read(collection, func() ([]docstore.Document, error) {
		return s.listLocked(collection), nil
	})
	s.hub.DeliverSnapshot(sub, snap)
	return sub, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrUnavailable
	}
	return nil
}

// Close ends the session and cancels every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.Count()
}

func (s *Store) mutate(path string, fn func(cur entry, exists bool) (entry, bool, error)) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrUnavailable
	}
	col, ok := s.cols[collection]
	if !ok {
		col = make(map[string]entry)
		s.cols[collection] = col
	}
	cur, exists := col[id]
	next, write, err := fn(cur, exists)
	if err != nil || !write {
		return err
	}
	col[id] = next
	s.hub.Publish(collection, s.listLocked(collection))
	return nil
}

// listLocked returns the collection ordered by creation time, then id.
func (s *Store) listLocked(collection string) []docstore.Document {
	col := s.cols[collection]
	docs := make([]docstore.Document, 0, len(col))
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := col[ids[i]], col[ids[j]]
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		docs = append(docs, docstore.Document{
			ID:   id,
			Path: docstore.Join(collection, id),
			Data: col[id].data.Clone(),
		})
	}
	return docs
}
