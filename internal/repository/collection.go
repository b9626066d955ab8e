// Package repository exposes typed create/update/delete/subscribe access to
// an administrator's private Property, Flat and Tenant collections.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

var tracer = otel.Tracer("github.com/hongminglow/flatkeeper/internal/repository")

// Deps are the collaborators shared by every repository.
type Deps struct {
	Store     docstore.Store
	Namespace docstore.Namespace
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Namespace == "" {
		d.Namespace = docstore.DefaultNamespace
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = logging.OrNop(d.Logger)
	return d
}

// collection is the typed façade over one private collection of an owner.
type collection[T any] struct {
	deps  Deps
	name  string
	path  string
	actor models.Actor
	setID func(*T, string)
}

func newCollection[T any](deps Deps, actor models.Actor, name, path string, setID func(*T, string)) *collection[T] {
	return &collection[T]{deps: deps, name: name, path: path, actor: actor, setID: setID}
}

func (c *collection[T]) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "repository."+c.name+"."+op, trace.WithAttributes(
		attribute.String("collection", c.name),
		attribute.String("owner", c.actor.ID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// authorize gates every access to the private namespace.
func (c *collection[T]) authorize() error {
	if c.deps.Store == nil {
		return errs.New(errs.CodeStoreUnavailable, "document store is not connected")
	}
	if c.actor.ID == "" || !c.actor.Role.ManagesRecords() {
		return errs.New(errs.CodeUnauthorized, fmt.Sprintf("admin role required to manage %s", c.name))
	}
	return nil
}

func (c *collection[T]) docPath(id string) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", errs.New(errs.CodeValidation, fmt.Sprintf("invalid %s id %q", c.name, id))
	}
	return docstore.Join(c.path, id), nil
}

func (c *collection[T]) add(ctx context.Context, v T) (string, error) {
	data, err := docstore.Encode(v)
	if err != nil {
		return "", errs.Wrap(err, errs.CodeInternal, "encode "+c.name)
	}
	id, err := c.deps.Store.Add(ctx, c.path, data)
	if err != nil {
		return "", storeErr("create "+c.name, err)
	}
	c.deps.Metrics.IncRecordWrite(c.name, "create")
	return id, nil
}

func (c *collection[T]) get(ctx context.Context, id string) (T, error) {
	var zero T
	path, err := c.docPath(id)
	if err != nil {
		return zero, err
	}
	doc, err := c.deps.Store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return zero, errs.New(errs.CodeNotFound, fmt.Sprintf("%s %s not found", c.name, id))
		}
		return zero, storeErr("read "+c.name, err)
	}
	return c.decode(doc)
}

func (c *collection[T]) update(ctx context.Context, id string, fields docstore.Fields) error {
	path, err := c.docPath(id)
	if err != nil {
		return err
	}
	if err := c.deps.Store.Update(ctx, path, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return errs.New(errs.CodeNotFound, fmt.Sprintf("%s %s not found", c.name, id))
		}
		return storeErr("update "+c.name, err)
	}
	c.deps.Metrics.IncRecordWrite(c.name, "update")
	return nil
}

func (c *collection[T]) remove(ctx context.Context, id string) error {
	path, err := c.docPath(id)
	if err != nil {
		return err
	}
	if err := c.deps.Store.Delete(ctx, path); err != nil {
		return storeErr("delete "+c.name, err)
	}
	c.deps.Metrics.IncRecordWrite(c.name, "delete")
	return nil
}

func (c *collection[T]) list(ctx context.Context) ([]T, error) {
	docs, err := c.deps.Store.List(ctx, c.path)
	if err != nil {
		return nil, storeErr("list "+c.name, err)
	}
	return c.decodeAll(docs)
}

func (c *collection[T]) subscribe(ctx context.Context) (*Subscription[T], error) {
	raw, err := c.deps.Store.Subscribe(ctx, c.path)
	if err != nil {
		return nil, storeErr("subscribe "+c.name, err)
	}
	raw.OnStop(c.deps.Metrics.TrackSubscription())
	return newSubscription(raw, c.decodeAll), nil
}

func (c *collection[T]) decode(doc docstore.Document) (T, error) {
	var v T
	if err := docstore.Decode(doc, &v); err != nil {
		return v, errs.Wrap(err, errs.CodeInternal, fmt.Sprintf("malformed %s document %s", c.name, doc.ID))
	}
	c.setID(&v, doc.ID)
	return v, nil
}

func (c *collection[T]) decodeAll(docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			c.deps.Logger.Warn("skipping malformed document",
				zap.String("collection", c.name), zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// storeErr turns a backend failure into a single human-readable error,
// keeping the store_unavailable code when the session is gone.
func storeErr(op string, err error) error {
	if errors.Is(err, docstore.ErrUnavailable) {
		return errs.Wrap(err, errs.CodeStoreUnavailable, op+": document store unavailable")
	}
	return errs.Wrap(err, errs.CodeInternal, fmt.Sprintf("%s: %v", op, err))
}
