package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/middleware"
	"github.com/hongminglow/flatkeeper/internal/models/dto"
	"github.com/hongminglow/flatkeeper/internal/projection"
	"github.com/hongminglow/flatkeeper/internal/roles"
)

// MeHandler serves the caller's identity and, for tenants, their own
// tenancy record looked up by email.
type MeHandler struct {
	reader   *projection.Reader
	resolver *roles.Resolver
	log      *zap.Logger
}

func NewMeHandler(reader *projection.Reader, resolver *roles.Resolver, log *zap.Logger) *MeHandler {
	return &MeHandler{reader: reader, resolver: resolver, log: logging.OrNop(log)}
}

func (h *MeHandler) Register(r chi.Router) {
	r.Get("/me", h.me)
	r.Get("/me/role/stream", h.roleStream)
	r.Get("/me/tenancy", h.tenancy)
	r.Get("/me/tenancy/stream", h.tenancyStream)
}

func (h *MeHandler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	respond.JSON(w, http.StatusOK, "ok", dto.MeResponse{
		IdentityID: actor.ID,
		Email:      actor.Email,
		Role:       string(actor.Role),
	})
}

func (h *MeHandler) tenancy(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	if actor.Email == "" {
		respond.Error(w, http.StatusNotFound, "no email on record for this identity")
		return
	}
	p, err := h.reader.Lookup(r.Context(), actor.Email)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", p)
}

// tenancyStream emits the caller's tenancy record on every change,
// including its removal.
func (h *MeHandler) tenancyStream(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	if actor.Email == "" {
		respond.Error(w, http.StatusNotFound, "no email on record for this identity")
		return
	}
	watch, err := h.reader.Watch(r.Context(), actor.Email)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	defer watch.Unsubscribe()

	es, ok := openStream(w, h.log)
	if !ok {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-watch.Errors():
			es.fail(err)
			return
		case t, ok := <-watch.Updates():
			if !ok {
				return
			}
			ev := dto.TenancyEvent{Found: t.Found}
			if t.Found {
				p := t.Projection
				ev.Tenancy = &p
			}
			if err := es.send("tenancy", ev); err != nil {
				return
			}
		}
	}
}

// roleStream emits the caller's effective role whenever it changes.
func (h *MeHandler) roleStream(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	watch, err := h.resolver.Watch(r.Context(), actor.ID)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	defer watch.Unsubscribe()

	es, ok := openStream(w, h.log)
	if !ok {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-watch.Errors():
			es.fail(err)
			return
		case role, ok := <-watch.Updates():
			if !ok {
				return
			}
			if err := es.send("role", dto.RoleEvent{Role: string(role)}); err != nil {
				return
			}
		}
	}
}
