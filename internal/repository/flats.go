package repository

import (
	"context"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// Flats manages an owner's private flat collection.
type Flats struct {
	c *collection[models.Flat]
}

func NewFlats(deps Deps, actor models.Actor) *Flats {
	deps = deps.withDefaults()
	return &Flats{c: newCollection(deps, actor, "flats", deps.Namespace.Flats(actor.ID),
		func(f *models.Flat, id string) { f.ID = id })}
}

// Create adds a flat. The referenced property is not checked for existence.
func (r *Flats) Create(ctx context.Context, in models.FlatInput) (id string, err error) {
	ctx, span := r.c.start(ctx, "create")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return "", err
	}
	in, err = in.Normalize()
	if err != nil {
		return "", err
	}
	return r.c.add(ctx, models.Flat{
		PropertyID: in.PropertyID,
		FlatNumber: in.FlatNumber,
		AreaSqFt:   in.AreaSqFt,
		IsOccupied: in.IsOccupied,
		CreatedAt:  r.c.deps.Now().UTC(),
	})
}

func (r *Flats) Update(ctx context.Context, id string, in models.FlatInput) (err error) {
	ctx, span := r.c.start(ctx, "update")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	in, err = in.Normalize()
	if err != nil {
		return err
	}
	return r.c.update(ctx, id, docstore.Fields{
		"propertyId": in.PropertyID,
		"flatNumber": in.FlatNumber,
		"areaSqFt":   in.AreaSqFt,
		"isOccupied": in.IsOccupied,
	})
}

func (r *Flats) Delete(ctx context.Context, id string) (err error) {
	ctx, span := r.c.start(ctx, "delete")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	return r.c.remove(ctx, id)
}

func (r *Flats) Get(ctx context.Context, id string) (models.Flat, error) {
	if err := r.c.authorize(); err != nil {
		return models.Flat{}, err
	}
	return r.c.get(ctx, id)
}

func (r *Flats) List(ctx context.Context) ([]models.Flat, error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.list(ctx)
}

func (r *Flats) Subscribe(ctx context.Context) (*Subscription[models.Flat], error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.subscribe(ctx)
}
