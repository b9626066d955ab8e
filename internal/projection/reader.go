package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// Reader serves the self-service view of a tenant's own record.
type Reader struct {
	store docstore.Store
	ns    docstore.Namespace
}

func NewReader(store docstore.Store, ns docstore.Namespace) *Reader {
	if ns == "" {
		ns = docstore.DefaultNamespace
	}
	return &Reader{store: store, ns: ns}
}

// Lookup returns the projection stored under contact.
func (r *Reader) Lookup(ctx context.Context, contact string) (models.TenantProjection, error) {
	path, err := r.path(contact)
	if err != nil {
		return models.TenantProjection{}, err
	}
	doc, err := r.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.TenantProjection{}, errs.New(errs.CodeNotFound, "no tenancy on record for "+contact)
		}
		return models.TenantProjection{}, storeErr("read tenancy", err)
	}
	var p models.TenantProjection
	if err := docstore.Decode(doc, &p); err != nil {
		return models.TenantProjection{}, errs.Wrap(err, errs.CodeInternal, "malformed tenancy record")
	}
	return p, nil
}

// Tenancy is one state of a watched projection. Found is false while no
// record exists under the contact.
type Tenancy struct {
	Projection models.TenantProjection
	Found      bool
}

// TenancyWatch streams a contact's projection.
type TenancyWatch struct {
	raw *docstore.Subscription
	out chan Tenancy
}

// Watch streams the projection under contact: its current state first,
// then every change.
func (r *Reader) Watch(ctx context.Context, contact string) (*TenancyWatch, error) {
	path, err := r.path(contact)
	if err != nil {
		return nil, err
	}
	raw, err := docstore.SubscribeDocument(ctx, r.store, path)
	if err != nil {
		return nil, storeErr("watch tenancy", err)
	}
	w := &TenancyWatch{raw: raw, out: make(chan Tenancy, 1)}
	go w.run()
	return w, nil
}

func (w *TenancyWatch) run() {
	defer close(w.out)
	for snap := range w.raw.Snapshots() {
		var t Tenancy
		if len(snap.Docs) == 1 && docstore.Decode(snap.Docs[0], &t.Projection) == nil {
			t.Found = true
		}
		select {
		case <-w.out:
		default:
		}
		w.out <- t
	}
}

// Updates is closed after Unsubscribe.
func (w *TenancyWatch) Updates() <-chan Tenancy { return w.out }

func (w *TenancyWatch) Errors() <-chan error { return w.raw.Errors() }

func (w *TenancyWatch) Unsubscribe() { w.raw.Unsubscribe() }

func (r *Reader) path(contact string) (string, error) {
	contact = models.NormalizeContact(contact)
	if contact == "" || strings.Contains(contact, "/") {
		return "", errs.New(errs.CodeValidation, "invalid contact")
	}
	return r.ns.PublicTenant(contact), nil
}

// storeErr keeps store_unavailable for a lost session; anything else is an
// internal failure.
func storeErr(op string, err error) error {
	if errors.Is(err, docstore.ErrUnavailable) {
		return errs.Wrap(err, errs.CodeStoreUnavailable, op+": document store unavailable")
	}
	return errs.Wrap(err, errs.CodeInternal, fmt.Sprintf("%s: %v", op, err))
}
