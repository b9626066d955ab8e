// Package projection maintains the public, contact-keyed copy of tenant
// records and serves tenant self-service lookups from it.
package projection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/metrics"
	"github.com/hongminglow/flatkeeper/internal/models"
)

var tracer = otel.Tracer("github.com/hongminglow/flatkeeper/internal/projection")

// Config wires a Writer.
type Config struct {
	Store     docstore.Store
	Namespace docstore.Namespace
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
	// CatalogIdle is how long an owner's catalog may go unused before its
	// subscriptions are released. Defaults to DefaultCatalogIdle.
	CatalogIdle time.Duration
}

const DefaultCatalogIdle = 10 * time.Minute

type catalogEntry struct {
	cat      *Catalog
	active   int
	lastUsed time.Time
}

// Writer composes and writes tenant projections. It keeps one Catalog per
// active owner for resolving property and flat references.
type Writer struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	catalogs map[string]*catalogEntry
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewWriter(cfg Config) *Writer {
	if cfg.Namespace == "" {
		cfg.Namespace = docstore.DefaultNamespace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CatalogIdle <= 0 {
		cfg.CatalogIdle = DefaultCatalogIdle
	}
	w := &Writer{
		cfg:      cfg,
		log:      logging.OrNop(cfg.Logger).Named("projection"),
		catalogs: make(map[string]*catalogEntry),
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.janitor()
	return w
}

// Project merge-writes the projection of t under its contact.
func (w *Writer) Project(ctx context.Context, owner string, t models.Tenant) (err error) {
	ctx, span := tracer.Start(ctx, "projection.project", trace.WithAttributes(
		attribute.String("owner", owner), attribute.String("tenant", t.ID)))
	defer func() { end(span, err) }()

	if strings.TrimSpace(t.Contact) == "" {
		return errs.New(errs.CodeValidation, "tenant contact is required for the public record")
	}

	var (
		property *models.Property
		flat     *models.Flat
	)
	cat, release := w.acquire(ctx, owner)
	defer release()
	if cat != nil {
		if p, ok := cat.Property(ctx, t.PropertyID); ok {
			property = &p
		}
		if f, ok := cat.Flat(ctx, t.FlatID); ok {
			flat = &f
		}
	}

	data, err := docstore.Encode(Compose(t, property, flat, w.cfg.Now().UTC()))
	if err != nil {
		return err
	}
	if err := w.cfg.Store.Set(ctx, w.cfg.Namespace.PublicTenant(t.Contact), data, docstore.Merge()); err != nil {
		w.cfg.Metrics.IncProjectionWrite("project", "failed")
		return err
	}
	w.cfg.Metrics.IncProjectionWrite("project", "ok")
	return nil
}

// Withdraw deletes the projection under contact if it still belongs to
// tenantID. Contacts are not unique across tenants, so a projection another
// tenant wrote since is left in place.
func (w *Writer) Withdraw(ctx context.Context, contact, tenantID string) (err error) {
	ctx, span := tracer.Start(ctx, "projection.withdraw", trace.WithAttributes(attribute.String("tenant", tenantID)))
	defer func() { end(span, err) }()

	path := w.cfg.Namespace.PublicTenant(contact)
	doc, err := w.cfg.Store.Get(ctx, path)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return nil
	case err != nil:
		w.cfg.Metrics.IncProjectionWrite("withdraw", "failed")
		return err
	}
	if holder, _ := doc.Data["tenantId"].(string); holder != tenantID {
		w.log.Debug("projection held by another tenant; not withdrawn",
			zap.String("contact", contact), zap.String("tenant", tenantID), zap.String("holder", holder))
		w.cfg.Metrics.IncProjectionWrite("withdraw", "skipped")
		return nil
	}
	if err := w.cfg.Store.Delete(ctx, path); err != nil {
		w.cfg.Metrics.IncProjectionWrite("withdraw", "failed")
		return err
	}
	w.cfg.Metrics.IncProjectionWrite("withdraw", "ok")
	return nil
}

// Close stops every owner catalog.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	entries := w.catalogs
	w.catalogs = make(map[string]*catalogEntry)
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
	for _, e := range entries {
		e.cat.Close()
	}
}

// acquire returns the owner's catalog, opening it on first use, and a
// release func the caller must run when done. A nil catalog means
// references resolve to N/A.
func (w *Writer) acquire(ctx context.Context, owner string) (*Catalog, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, func() {}
	}
	e, ok := w.catalogs[owner]
	if !ok {
		// The catalog outlives the request that opened it.
		c, err := OpenCatalog(context.WithoutCancel(ctx), w.cfg.Store, w.cfg.Namespace, owner, w.log)
		if err != nil {
			w.log.Warn("open catalog failed", zap.String("owner", owner), zap.Error(err))
			return nil, func() {}
		}
		e = &catalogEntry{cat: c}
		w.catalogs[owner] = e
	}
	e.active++
	return e.cat, func() {
		w.mu.Lock()
		e.active--
		e.lastUsed = w.cfg.Now()
		w.mu.Unlock()
	}
}

// evictIdle closes catalogs unused for CatalogIdle and returns how many
// were closed.
func (w *Writer) evictIdle() int {
	now := w.cfg.Now()
	var idle []*Catalog
	w.mu.Lock()
	for owner, e := range w.catalogs {
		if e.active == 0 && now.Sub(e.lastUsed) >= w.cfg.CatalogIdle {
			idle = append(idle, e.cat)
			delete(w.catalogs, owner)
		}
	}
	w.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
	if len(idle) > 0 {
		w.log.Debug("evicted idle catalogs", zap.Int("count", len(idle)))
	}
	return len(idle)
}

func (w *Writer) janitor() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.CatalogIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.evictIdle()
		}
	}
}

// Compose builds the projection of t. Missing references are written as N/A.
func Compose(t models.Tenant, property *models.Property, flat *models.Flat, now time.Time) models.TenantProjection {
	p := models.TenantProjection{
		TenantID:          t.ID,
		Name:              t.Name,
		Contact:           t.Contact,
		PropertyID:        t.PropertyID,
		PropertyName:      models.NotAvailable,
		PropertyAddress:   models.NotAvailable,
		FlatID:            t.FlatID,
		FlatNumber:        models.NotAvailable,
		MaintenanceAmount: t.MaintenanceAmount,
		DueDate:           t.DueDate,
		IsPaid:            t.IsPaid,
		LastUpdated:       now,
	}
	if property != nil {
		p.PropertyName = property.Name
		p.PropertyAddress = property.Address
	}
	if flat != nil {
		p.FlatNumber = flat.FlatNumber
	}
	return p
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
