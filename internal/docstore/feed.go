package docstore

import (
	"context"
	"sync"
)

// Subscription is a live stream of collection snapshots. Delivery is
// latest-wins: a slow reader may skip intermediate snapshots but never
// receives one older than a snapshot it was already offered.
type Subscription struct {
	collection string
	c          chan Snapshot
	errc       chan error
	done       chan struct{}

	mu      sync.Mutex
	closed  bool
	lastSeq uint64
	onStop  []func()
}

func newSubscription(collection string) *Subscription {
	return &Subscription{
		collection: collection,
		c:          make(chan Snapshot, 1),
		errc:       make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// NewSubscription returns a standalone subscription fed by its creator
// through Deliver. Derived streams (single documents, typed views) use it.
func NewSubscription(ctx context.Context, collection string) *Subscription {
	sub := newSubscription(collection)
	sub.watchContext(ctx)
	return sub
}

// Collection is the subscribed collection path.
func (s *Subscription) Collection() string { return s.collection }

// Snapshots yields snapshots until the subscription is cancelled, at which
// point the channel is closed.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.c }

// Errors yields backend failures. The subscription stays open after an
// error; the caller decides whether to unsubscribe.
func (s *Subscription) Errors() <-chan error { return s.errc }

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// OnStop registers fn to run once when the subscription is cancelled.
func (s *Subscription) OnStop(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

// Unsubscribe stops delivery and releases the listener. It is safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.c)
	stops := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for _, fn := range stops {
		fn()
	}
}

// Deliver offers snap to the reader, replacing any snapshot not yet read.
// Snapshots whose Seq is not newer than the last delivered one are dropped.
func (s *Subscription) Deliver(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.lastSeq != 0 && snap.Seq <= s.lastSeq) {
		return false
	}
	s.lastSeq = snap.Seq
	select {
	case <-s.c:
	default:
	}
	s.c <- snap
	return true
}

// Fail reports err on the error channel without blocking; if an earlier
// error is still unread the newer one is dropped.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errc <- err:
	default:
	}
}

func (s *Subscription) watchContext(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()
}

// Hub fans snapshots out to the subscribers of each collection. Backends
// hold one Hub and call Publish after every committed change.
type Hub struct {
	mu    sync.Mutex
	seq   uint64
	subs  map[string]map[*Subscription]struct{}
	reads map[string]*sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[string]map[*Subscription]struct{}),
		reads: make(map[string]*sync.Mutex),
	}
}

// Add registers a subscriber for collection. The subscriber is removed when
// it unsubscribes or ctx is cancelled.
func (h *Hub) Add(ctx context.Context, collection string) *Subscription {
	sub := newSubscription(collection)
	h.mu.Lock()
	set, ok := h.subs[collection]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[collection] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	sub.OnStop(func() { h.remove(sub) })
	sub.watchContext(ctx)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.collection]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.collection)
	}
}

// Watched reports whether collection has at least one subscriber.
func (h *Hub) Watched(collection string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection]) > 0
}

// Collections returns every collection that currently has subscribers.
func (h *Hub) Collections() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for c := range h.subs {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Publish delivers docs as the new state of collection to every subscriber.
// The caller must hold whatever lock orders its reads with its writes; the
// memory backend does. Backends that read outside such a lock use Read and
// PublishSnapshot instead.
func (h *Hub) Publish(collection string, docs []Document) {
	h.mu.Lock()
	h.seq++
	snap := Snapshot{Collection: collection, Docs: docs, Seq: h.seq}
	h.mu.Unlock()
	h.PublishSnapshot(snap)
}

// Read runs list under the collection's read lock and stamps the result
// with a sequence number taken before list starts. Reads of one collection
// never overlap, so a higher Seq always carries state at least as new.
func (h *Hub) Read(collection string, list func() ([]Document, error)) (Snapshot, error) {
	lock := h.readLock(collection)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	docs, err := list()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Collection: collection, Docs: docs, Seq: seq}, nil
}

// PublishSnapshot delivers snap to every subscriber of its collection.
func (h *Hub) PublishSnapshot(snap Snapshot) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[snap.Collection]))
	for sub := range h.subs[snap.Collection] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.Deliver(snap)
	}
}

// DeliverSnapshot sends snap to a single subscriber, typically its initial
// state. It is dropped if a newer snapshot already reached sub.
func (h *Hub) DeliverSnapshot(sub *Subscription, snap Snapshot) {
	sub.Deliver(snap)
}

func (h *Hub) readLock(collection string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.reads[collection]
	if !ok {
		lock = &sync.Mutex{}
		h.reads[collection] = lock
	}
	return lock
}

// Fail reports err to every subscriber of collection.
func (h *Hub) Fail(collection string, err error) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[collection]))
	for sub := range h.subs[collection] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()
	for _, sub := range targets {
		sub.Fail(err)
	}
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range all {
		sub.Unsubscribe()
	}
}
