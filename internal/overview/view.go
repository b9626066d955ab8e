// Package overview maintains live dashboard totals for an administrator.
package overview

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/repository"
)

// Summary is the dashboard snapshot.
type Summary struct {
	TotalProperties int `json:"totalProperties"`
	TotalFlats      int `json:"totalFlats"`
	OccupiedFlats   int `json:"occupiedFlats"`
	TotalTenants    int `json:"totalTenants"`
	UnpaidBills     int `json:"unpaidBills"`
	TotalUsers      int `json:"totalUsers"`
}

type source int

const (
	fromProperties source = iota
	fromFlats
	fromTenants
	fromProfiles
	sourceCount
)

// View folds four independent subscriptions into one Summary. Each source
// only writes its own fields; there is no ordering between sources.
type View struct {
	log *zap.Logger

	mu       sync.RWMutex
	summary  Summary
	reported [sourceCount]bool
	pending  int

	ready   chan struct{}
	updates chan Summary
	done    chan struct{}
	cancel  context.CancelFunc
	err     error
}

// Open subscribes to actor's properties, flats and tenants and to the
// public profile directory. The view runs until ctx ends or Close.
func Open(ctx context.Context, deps repository.Deps, actor models.Actor) (*View, error) {
	properties, err := repository.NewProperties(deps, actor).Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	flats, err := repository.NewFlats(deps, actor).Subscribe(ctx)
	if err != nil {
		properties.Unsubscribe()
		return nil, err
	}
	tenants, err := repository.NewTenants(deps, actor, nil).Subscribe(ctx)
	if err != nil {
		properties.Unsubscribe()
		flats.Unsubscribe()
		return nil, err
	}
	ns := deps.Namespace
	if ns == "" {
		ns = docstore.DefaultNamespace
	}
	profiles, err := deps.Store.Subscribe(ctx, ns.UserProfiles())
	if err != nil {
		properties.Unsubscribe()
		flats.Unsubscribe()
		tenants.Unsubscribe()
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "subscribe profiles")
	}
	profiles.OnStop(deps.Metrics.TrackSubscription())

	ctx, cancel := context.WithCancel(ctx)
	v := &View{
		log:     logging.OrNop(deps.Logger).Named("overview"),
		pending: int(sourceCount),
		ready:   make(chan struct{}),
		updates: make(chan Summary, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return follow(gctx, v, properties, func(s *Summary, items []models.Property) {
			s.TotalProperties = len(items)
		}, fromProperties)
	})
	g.Go(func() error {
		return follow(gctx, v, flats, func(s *Summary, items []models.Flat) {
			s.TotalFlats = len(items)
			s.OccupiedFlats = 0
			for _, f := range items {
				if f.IsOccupied {
					s.OccupiedFlats++
				}
			}
		}, fromFlats)
	})
	g.Go(func() error {
		return follow(gctx, v, tenants, func(s *Summary, items []models.Tenant) {
			s.TotalTenants = len(items)
			s.UnpaidBills = 0
			for _, t := range items {
				if !t.IsPaid {
					s.UnpaidBills++
				}
			}
		}, fromTenants)
	})
	g.Go(func() error { return v.followProfiles(gctx, profiles) })

	go func() {
		err := g.Wait()
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		close(v.updates)
		close(v.done)
	}()
	return v, nil
}

// updateSource is the shape shared by typed repository subscriptions.
type updateSource[T any] interface {
	Updates() <-chan []T
	Errors() <-chan error
	Unsubscribe()
}

func follow[T any](ctx context.Context, v *View, sub updateSource[T], apply func(*Summary, []T), from source) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case items, ok := <-sub.Updates():
			if !ok {
				return stopped(ctx)
			}
			v.apply(from, func(s *Summary) { apply(s, items) })
		case err := <-sub.Errors():
			v.log.Warn("overview source error", zap.Int("source", int(from)), zap.Error(err))
		}
	}
}

func (v *View) followProfiles(ctx context.Context, sub *docstore.Subscription) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return stopped(ctx)
			}
			v.apply(fromProfiles, func(s *Summary) { s.TotalUsers = len(snap.Docs) })
		case err := <-sub.Errors():
			v.log.Warn("overview source error", zap.Int("source", int(fromProfiles)), zap.Error(err))
		}
	}
}

// stopped reports a subscription that ended without the view being closed.
func stopped(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return errs.New(errs.CodeStoreUnavailable, "overview subscription ended")
}

func (v *View) apply(from source, fn func(*Summary)) {
	v.mu.Lock()
	fn(&v.summary)
	if !v.reported[from] {
		v.reported[from] = true
		v.pending--
		if v.pending == 0 {
			close(v.ready)
		}
	}
	snap := v.summary
	select {
	case <-v.updates:
	default:
	}
	v.updates <- snap
	v.mu.Unlock()
}

// Current returns the latest totals. Fields whose source has not reported
// yet are zero.
func (v *View) Current() Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.summary
}

// Ready is closed once every source has reported at least once.
func (v *View) Ready() <-chan struct{} { return v.ready }

// Updates yields the summary after each change, latest-wins. It is closed
// when the view stops.
func (v *View) Updates() <-chan Summary { return v.updates }

// Done is closed when the view stops.
func (v *View) Done() <-chan struct{} { return v.done }

// Err returns why the view stopped, nil after a normal Close.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Close stops every subscription and waits for them to release.
func (v *View) Close() {
	v.cancel()
	<-v.done
}
