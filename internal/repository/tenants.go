package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// Projector maintains the public copy of tenant records.
type Projector interface {
	Project(ctx context.Context, owner string, t models.Tenant) error
	Withdraw(ctx context.Context, contact, tenantID string) error
}

// Tenants manages an owner's private tenant collection and keeps the public
// projection in step. The private write and the projection write are
// separate operations: when the second fails the private record stays and
// the call returns a partial_sync_failure error.
type Tenants struct {
	c         *collection[models.Tenant]
	projector Projector
}

func NewTenants(deps Deps, actor models.Actor, projector Projector) *Tenants {
	deps = deps.withDefaults()
	return &Tenants{
		c: newCollection(deps, actor, "tenants", deps.Namespace.Tenants(actor.ID),
			func(t *models.Tenant, id string) { t.ID = id }),
		projector: projector,
	}
}

// Create stores a new unpaid tenant and publishes its projection. On a
// partial sync failure the returned id is valid.
func (r *Tenants) Create(ctx context.Context, in models.TenantInput) (id string, err error) {
	ctx, span := r.c.start(ctx, "create")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return "", err
	}
	in, err = in.Normalize()
	if err != nil {
		return "", err
	}
	t := models.Tenant{
		Name:              in.Name,
		Contact:           in.Contact,
		PropertyID:        in.PropertyID,
		FlatID:            in.FlatID,
		MaintenanceAmount: in.MaintenanceAmount,
		DueDate:           in.DueDate,
		IsPaid:            false,
		CreatedAt:         r.c.deps.Now().UTC(),
	}
	id, err = r.c.add(ctx, t)
	if err != nil {
		return "", err
	}
	t.ID = id
	return id, r.project(ctx, t)
}

// Update replaces the editable fields. If the contact changed, the
// projection under the old contact is withdrawn after the new one is
// written.
func (r *Tenants) Update(ctx context.Context, id string, in models.TenantInput) (err error) {
	ctx, span := r.c.start(ctx, "update")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	in, err = in.Normalize()
	if err != nil {
		return err
	}
	prev, err := r.c.get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.c.update(ctx, id, docstore.Fields{
		"name":              in.Name,
		"contact":           in.Contact,
		"propertyId":        in.PropertyID,
		"flatId":            in.FlatID,
		"maintenanceAmount": in.MaintenanceAmount,
		"dueDate":           in.DueDate,
		"isPaid":            in.IsPaid,
	}); err != nil {
		return err
	}

	next := prev
	next.Name = in.Name
	next.Contact = in.Contact
	next.PropertyID = in.PropertyID
	next.FlatID = in.FlatID
	next.MaintenanceAmount = in.MaintenanceAmount
	next.DueDate = in.DueDate
	next.IsPaid = in.IsPaid
	if err := r.project(ctx, next); err != nil {
		return err
	}
	if prev.Contact != next.Contact {
		return r.withdraw(ctx, prev.Contact, id)
	}
	return nil
}

// SetPaid flips the payment flag on both the private record and its
// projection.
func (r *Tenants) SetPaid(ctx context.Context, id string, paid bool) (err error) {
	ctx, span := r.c.start(ctx, "set_paid")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	t, err := r.c.get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.c.update(ctx, id, docstore.Fields{"isPaid": paid}); err != nil {
		return err
	}
	t.IsPaid = paid
	return r.project(ctx, t)
}

// Delete removes the tenant and then its projection. The contact is read
// first; if the tenant is already gone nothing else is touched. A failed
// projection delete does not restore the private record.
func (r *Tenants) Delete(ctx context.Context, id string) (err error) {
	ctx, span := r.c.start(ctx, "delete")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return err
	}
	contact := ""
	prev, err := r.c.get(ctx, id)
	switch {
	case err == nil:
		contact = prev.Contact
	case !errors.Is(err, errs.NotFound):
		return err
	}
	if err := r.c.remove(ctx, id); err != nil {
		return err
	}
	if contact == "" {
		return nil
	}
	return r.withdraw(ctx, contact, id)
}

// Resync rewrites the projection of every tenant in the namespace and
// returns how many were written.
func (r *Tenants) Resync(ctx context.Context) (written int, err error) {
	ctx, span := r.c.start(ctx, "resync")
	defer func() { endSpan(span, err) }()

	if err := r.c.authorize(); err != nil {
		return 0, err
	}
	tenants, err := r.c.list(ctx)
	if err != nil {
		return 0, err
	}
	var failed []string
	for _, t := range tenants {
		if err := r.project(ctx, t); err != nil {
			failed = append(failed, t.ID)
			continue
		}
		written++
	}
	if len(failed) > 0 {
		return written, errs.New(errs.CodePartialSyncFailure,
			fmt.Sprintf("%d of %d tenant projections could not be written", len(failed), len(tenants)))
	}
	return written, nil
}

func (r *Tenants) Get(ctx context.Context, id string) (models.Tenant, error) {
	if err := r.c.authorize(); err != nil {
		return models.Tenant{}, err
	}
	return r.c.get(ctx, id)
}

func (r *Tenants) List(ctx context.Context) ([]models.Tenant, error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.list(ctx)
}

func (r *Tenants) Subscribe(ctx context.Context) (*Subscription[models.Tenant], error) {
	if err := r.c.authorize(); err != nil {
		return nil, err
	}
	return r.c.subscribe(ctx)
}

func (r *Tenants) project(ctx context.Context, t models.Tenant) error {
	if r.projector == nil {
		return nil
	}
	if err := r.projector.Project(ctx, r.c.actor.ID, t); err != nil {
		return r.partial("publish", t.ID, err)
	}
	return nil
}

func (r *Tenants) withdraw(ctx context.Context, contact, tenantID string) error {
	if r.projector == nil {
		return nil
	}
	if err := r.projector.Withdraw(ctx, contact, tenantID); err != nil {
		return r.partial("withdraw", contact, err)
	}
	return nil
}

func (r *Tenants) partial(op, key string, err error) error {
	r.c.deps.Metrics.IncPartialSyncFailure()
	r.c.deps.Logger.Warn("tenant projection out of sync",
		zap.String("op", op), zap.String("key", key), zap.String("owner", r.c.actor.ID), zap.Error(err))
	return &errs.Error{
		Code:    errs.CodePartialSyncFailure,
		Message: fmt.Sprintf("tenant saved but public record %s failed: %v", op, err),
		Err:     err,
	}
}
