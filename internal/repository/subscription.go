package repository

import (
	"github.com/hongminglow/flatkeeper/internal/docstore"
)

// Subscription is a typed live view of a collection. Updates yields the
// full decoded collection, first immediately and then after every change;
// an unread update is replaced by a newer one.
type Subscription[T any] struct {
	raw  *docstore.Subscription
	out  chan []T
	errc chan error
}

func newSubscription[T any](raw *docstore.Subscription, decode func([]docstore.Document) ([]T, error)) *Subscription[T] {
	s := &Subscription[T]{
		raw:  raw,
		out:  make(chan []T, 1),
		errc: make(chan error, 1),
	}
	go s.run(decode)
	return s
}

func (s *Subscription[T]) run(decode func([]docstore.Document) ([]T, error)) {
	defer close(s.out)
	for {
		select {
		case snap, ok := <-s.raw.Snapshots():
			if !ok {
				return
			}
			items, err := decode(snap.Docs)
			if err != nil {
				s.report(err)
				continue
			}
			select {
			case <-s.out:
			default:
			}
			s.out <- items
		case err := <-s.raw.Errors():
			s.report(storeErr("subscription", err))
		}
	}
}

func (s *Subscription[T]) report(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

// Updates is closed after Unsubscribe.
func (s *Subscription[T]) Updates() <-chan []T { return s.out }

// Errors yields store failures; the subscription stays open.
func (s *Subscription[T]) Errors() <-chan error { return s.errc }

// Done is closed once the subscription is cancelled.
func (s *Subscription[T]) Done() <-chan struct{} { return s.raw.Done() }

// Unsubscribe releases the listener. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() { s.raw.Unsubscribe() }
