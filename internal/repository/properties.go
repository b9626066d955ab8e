package repository

import (
	"context"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// Properties manages an owner's private property collection.
type Properties struct {
	c *collection[models.Property]
}

// NewProperties scopes the property collection to actor's namespace.
func NewProperties(deps Deps, actor models.Actor) *Properties {
	deps = deps.withDefaults()
	return &Properties{c: newCollection(deps, actor, "properties", deps.Namespace.Properties(actor.ID),
		func(p *models.Property, id string) { p.ID = id })}
}

func (r *Properties) Create(ctx context.Context, in models.PropertyInput) (id string, err error) {
	ctx, span := r.c.start(ctx, "create")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return "", err
	}
	in, err = in.Normalize()
	if err != nil {
		return "", err
	}
	return r.c.add(ctx, models.Property{
		Name:      in.Name,
		Address:   in.Address,
		CreatedAt: r.c.deps.Now().UTC(),
	})
}

// Update replaces the editable fields of an existing property. Tenant
// projections that copied the old name or address are left as they are.
func (r *Properties) Update(ctx context.Context, id string, in models.PropertyInput) (err error) {
	ctx, span := r.c.start(ctx, "update")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	in, err = in.Normalize()
	if err != nil {
		return err
	}
	return r.c.update(ctx, id, docstore.Fields{"name": in.Name, "address": in.Address})
}

// Delete removes the property. Flats and tenants that reference it are not
// touched.
func (r *Properties) Delete(ctx context.Context, id string) (err error) {
	ctx, span := r.c.start(ctx, "delete")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	return r.c.remove(ctx, id)
}

func (r *Properties) Get(ctx context.Context, id string) (models.Property, error) {
	if err := r.c.authorize(); err != nil {
		return models.Property{}, err
	}
	return r.c.get(ctx, id)
}

func (r *Properties) List(ctx context.Context) ([]models.Property, error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.list(ctx)
}

// Subscribe streams the full property collection.
func (r *Properties) Subscribe(ctx context.Context) (*Subscription[models.Property], error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.subscribe(ctx)
}
