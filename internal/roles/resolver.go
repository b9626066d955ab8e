// Package roles resolves and assigns the role attached to each identity.
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

var tracer = otel.Tracer("github.com/hongminglow/flatkeeper/internal/roles")

type Config struct {
	Store     docstore.Store
	Namespace docstore.Namespace
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Resolver reads and writes public identity profiles. The public profile
// is authoritative; a missing profile means User.
type Resolver struct {
	store   docstore.Store
	ns      docstore.Namespace
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewResolver(cfg Config) *Resolver {
	if cfg.Namespace == "" {
		cfg.Namespace = docstore.DefaultNamespace
	}
	return &Resolver{
		store:   cfg.Store,
		ns:      cfg.Namespace,
		metrics: cfg.Metrics,
		log:     logging.OrNop(cfg.Logger).Named("roles"),
	}
}

// Resolve returns the identity's role, creating a User profile on first
// sight. Concurrent first resolutions converge on a single profile.
func (r *Resolver) Resolve(ctx context.Context, identityID string) (role models.Role, err error) {
	ctx, span := tracer.Start(ctx, "roles.resolve", trace.WithAttributes(attribute.String("identity", identityID)))
	defer func() { end(span, err) }()

	if err := r.ready(identityID); err != nil {
		return "", err
	}
	path := r.ns.UserProfile(identityID)

	role, found, err := r.read(ctx, path)
	if err != nil || found {
		if found {
			r.metrics.IncRoleResolution("existing")
		}
		return role, err
	}

	profile := docstore.Fields{"role": string(models.RoleUser)}
	switch err := r.store.Create(ctx, path, profile); {
	case err == nil:
		r.metrics.IncRoleResolution("created")
		r.log.Info("created default profile", zap.String("identity", identityID))
	case errors.Is(err, docstore.ErrAlreadyExists):
		r.metrics.IncRoleResolution("raced")
		if role, found, err = r.read(ctx, path); err != nil {
			return "", err
		}
		if !found {
			role = models.RoleUser
		}
		return role, nil
	default:
		return "", storeErr("create profile", err)
	}

	self := docstore.Fields{"role": string(models.RoleUser)}
	if err := r.store.Create(ctx, r.ns.SelfProfile(identityID), self); err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
		r.log.Warn("self profile not written", zap.String("identity", identityID), zap.Error(err))
	}
	return models.RoleUser, nil
}

// SetRole assigns role to target. Only a Super Admin may do this.
func (r *Resolver) SetRole(ctx context.Context, actor models.Actor, target string, role models.Role) (err error) {
	ctx, span := tracer.Start(ctx, "roles.set", trace.WithAttributes(
		attribute.String("identity", target), attribute.String("role", string(role))))
	defer func() { end(span, err) }()

	if r.store == nil {
		return errs.New(errs.CodeStoreUnavailable, "document store is not connected")
	}
	if actor.ID == "" || actor.Role != models.RoleSuperAdmin {
		return errs.New(errs.CodeUnauthorized, "only a Super Admin may assign roles")
	}
	if err := r.write(ctx, target, role); err != nil {
		return err
	}
	r.metrics.IncRoleChange()
	r.log.Info("role assigned",
		zap.String("actor", actor.ID), zap.String("identity", target), zap.String("role", string(role)))
	return nil
}

// Bootstrap assigns a role without an acting identity. It is reserved for
// operator tooling that seeds the first Super Admin.
func (r *Resolver) Bootstrap(ctx context.Context, identityID string, role models.Role) error {
	if err := r.write(ctx, identityID, role); err != nil {
		return err
	}
	r.log.Info("role bootstrapped", zap.String("identity", identityID), zap.String("role", string(role)))
	return nil
}

func (r *Resolver) write(ctx context.Context, identityID string, role models.Role) error {
	if err := r.ready(identityID); err != nil {
		return err
	}
	if !role.Valid() {
		return errs.New(errs.CodeValidation, fmt.Sprintf("unknown role %q", role))
	}
	fields := docstore.Fields{"role": string(role)}
	if err := r.store.Set(ctx, r.ns.UserProfile(identityID), fields, docstore.Merge()); err != nil {
		return storeErr("write profile", err)
	}
	return nil
}

func (r *Resolver) ready(identityID string) error {
	if r.store == nil {
		return errs.New(errs.CodeStoreUnavailable, "document store is not connected")
	}
	if strings.TrimSpace(identityID) == "" || strings.Contains(identityID, "/") {
		return errs.New(errs.CodeValidation, fmt.Sprintf("invalid identity id %q", identityID))
	}
	return nil
}

func (r *Resolver) read(ctx context.Context, path string) (models.Role, bool, error) {
	doc, err := r.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", false, nil
		}
		return "", false, storeErr("read profile", err)
	}
	return roleOf(doc, r.log), true, nil
}

// roleOf decodes a profile document. Unknown roles degrade to User.
func roleOf(doc docstore.Document, log *zap.Logger) models.Role {
	var p models.IdentityProfile
	if err := docstore.Decode(doc, &p); err != nil || !p.Role.Valid() {
		log.Warn("profile has no usable role", zap.String("path", doc.Path), zap.Any("role", doc.Data["role"]))
		return models.RoleUser
	}
	return p.Role
}

func storeErr(op string, err error) error {
	if errors.Is(err, docstore.ErrUnavailable) {
		return errs.Wrap(err, errs.CodeStoreUnavailable, op+": document store unavailable")
	}
	return errs.Wrap(err, errs.CodeInternal, fmt.Sprintf("%s: %v", op, err))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
