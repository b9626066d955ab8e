package roles

import (
	"context"
	"sort"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// RoleWatch streams one identity's role.
type RoleWatch struct {
	raw *docstore.Subscription
	out chan models.Role
}

// Watch streams identityID's role, User while no profile exists.
func (r *Resolver) Watch(ctx context.Context, identityID string) (*RoleWatch, error) {
	if err := r.ready(identityID); err != nil {
		return nil, err
	}
	raw, err := docstore.SubscribeDocument(ctx, r.store, r.ns.UserProfile(identityID))
	if err != nil {
		return nil, storeErr("watch profile", err)
	}
	w := &RoleWatch{raw: raw, out: make(chan models.Role, 1)}
	raw.OnStop(r.metrics.TrackSubscription())
	go func() {
		defer close(w.out)
		for snap := range raw.Snapshots() {
			role := models.RoleUser
			if len(snap.Docs) == 1 {
				role = roleOf(snap.Docs[0], r.log)
			}
			select {
			case <-w.out:
			default:
			}
			w.out <- role
		}
	}()
	return w, nil
}

// Updates is closed after Unsubscribe.
func (w *RoleWatch) Updates() <-chan models.Role { return w.out }

func (w *RoleWatch) Errors() <-chan error { return w.raw.Errors() }

func (w *RoleWatch) Unsubscribe() { w.raw.Unsubscribe() }

// Profiles lists every public profile. Super Admin only.
func (r *Resolver) Profiles(ctx context.Context, actor models.Actor) ([]models.IdentityProfile, error) {
	if err := r.directoryAccess(actor); err != nil {
		return nil, err
	}
	docs, err := r.store.List(ctx, r.ns.UserProfiles())
	if err != nil {
		return nil, storeErr("list profiles", err)
	}
	return r.profiles(docs), nil
}

// DirectoryWatch streams the full profile directory.
type DirectoryWatch struct {
	raw *docstore.Subscription
	out chan []models.IdentityProfile
}

// Directory subscribes to every public profile. Super Admin only.
func (r *Resolver) Directory(ctx context.Context, actor models.Actor) (*DirectoryWatch, error) {
	if err := r.directoryAccess(actor); err != nil {
		return nil, err
	}
	raw, err := r.store.Subscribe(ctx, r.ns.UserProfiles())
	if err != nil {
		return nil, storeErr("watch profiles", err)
	}
	raw.OnStop(r.metrics.TrackSubscription())
	w := &DirectoryWatch{raw: raw, out: make(chan []models.IdentityProfile, 1)}
	go func() {
		defer close(w.out)
		for snap := range raw.Snapshots() {
			select {
			case <-w.out:
			default:
			}
			w.out <- r.profiles(snap.Docs)
		}
	}()
	return w, nil
}

// Updates is closed after Unsubscribe.
func (w *DirectoryWatch) Updates() <-chan []models.IdentityProfile { return w.out }

func (w *DirectoryWatch) Errors() <-chan error { return w.raw.Errors() }

func (w *DirectoryWatch) Unsubscribe() { w.raw.Unsubscribe() }

func (r *Resolver) directoryAccess(actor models.Actor) error {
	if r.store == nil {
		return errs.New(errs.CodeStoreUnavailable, "document store is not connected")
	}
	if actor.ID == "" || actor.Role != models.RoleSuperAdmin {
		return errs.New(errs.CodeUnauthorized, "only a Super Admin may view the role directory")
	}
	return nil
}

func (r *Resolver) profiles(docs []docstore.Document) []models.IdentityProfile {
	out := make([]models.IdentityProfile, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.IdentityProfile{IdentityID: doc.ID, Role: roleOf(doc, r.log)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out
}
