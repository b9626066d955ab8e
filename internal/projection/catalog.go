package projection

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// Catalog caches one owner's properties and flats, kept current by
// collection subscriptions. Projections read references from it.
type Catalog struct {
	store docstore.Store
	ns    docstore.Namespace
	owner string
	log   *zap.Logger

	mu         sync.RWMutex
	properties map[string]models.Property
	flats      map[string]models.Flat

	subs []*docstore.Subscription
	wg   sync.WaitGroup
}

// OpenCatalog subscribes to the owner's property and flat collections.
func OpenCatalog(ctx context.Context, store docstore.Store, ns docstore.Namespace, owner string, log *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		store:      store,
		ns:         ns,
		owner:      owner,
		log:        logging.OrNop(log),
		properties: make(map[string]models.Property),
		flats:      make(map[string]models.Flat),
	}

	props, err := store.Subscribe(ctx, ns.Properties(owner))
	if err != nil {
		return nil, err
	}
	flats, err := store.Subscribe(ctx, ns.Flats(owner))
	if err != nil {
		props.Unsubscribe()
		return nil, err
	}
	c.subs = []*docstore.Subscription{props, flats}

	c.wg.Add(2)
	go c.follow(props, c.replaceProperties)
	go c.follow(flats, c.replaceFlats)
	return c, nil
}

// Close stops both subscriptions.
func (c *Catalog) Close() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.wg.Wait()
}

func (c *Catalog) follow(sub *docstore.Subscription, apply func([]docstore.Document)) {
	defer c.wg.Done()
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			apply(snap.Docs)
		case err := <-sub.Errors():
			c.log.Warn("catalog subscription error",
				zap.String("collection", sub.Collection()), zap.Error(err))
		}
	}
}

func (c *Catalog) replaceProperties(docs []docstore.Document) {
	next := make(map[string]models.Property, len(docs))
	for _, doc := range docs {
		var p models.Property
		if err := docstore.Decode(doc, &p); err != nil {
			continue
		}
		p.ID = doc.ID
		next[doc.ID] = p
	}
	c.mu.Lock()
	c.properties = next
	c.mu.Unlock()
}

func (c *Catalog) replaceFlats(docs []docstore.Document) {
	next := make(map[string]models.Flat, len(docs))
	for _, doc := range docs {
		var f models.Flat
		if err := docstore.Decode(doc, &f); err != nil {
			continue
		}
		f.ID = doc.ID
		next[doc.ID] = f
	}
	c.mu.Lock()
	c.flats = next
	c.mu.Unlock()
}

// Property resolves a property from the cache, falling back to a point
// read for records the subscription has not delivered yet.
func (c *Catalog) Property(ctx context.Context, id string) (models.Property, bool) {
	c.mu.RLock()
	p, ok := c.properties[id]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	if id == "" {
		return models.Property{}, false
	}
	if !c.read(ctx, docstore.Join(c.ns.Properties(c.owner), id), &p) {
		return models.Property{}, false
	}
	p.ID = id
	return p, true
}

// Flat resolves a flat the same way Property does.
func (c *Catalog) Flat(ctx context.Context, id string) (models.Flat, bool) {
	c.mu.RLock()
	f, ok := c.flats[id]
	c.mu.RUnlock()
	if ok {
		return f, true
	}
	if id == "" {
		return models.Flat{}, false
	}
	if !c.read(ctx, docstore.Join(c.ns.Flats(c.owner), id), &f) {
		return models.Flat{}, false
	}
	f.ID = id
	return f, true
}

func (c *Catalog) read(ctx context.Context, path string, v any) bool {
	doc, err := c.store.Get(ctx, path)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			c.log.Warn("catalog point read failed", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	return docstore.Decode(doc, v) == nil
}
