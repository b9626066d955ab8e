package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/middleware"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/models/dto"
	"github.com/hongminglow/flatkeeper/internal/roles"
)

// RolesHandler lets a Super Admin list profiles and assign roles.
type RolesHandler struct {
	resolver *roles.Resolver
	log      *zap.Logger
}

func NewRolesHandler(resolver *roles.Resolver, log *zap.Logger) *RolesHandler {
	return &RolesHandler{resolver: resolver, log: logging.OrNop(log)}
}

func (h *RolesHandler) Register(r chi.Router) {
	r.Get("/roles", h.list)
	r.Get("/roles/stream", h.stream)
	r.Put("/roles/{identityId}", h.set)
}

func (h *RolesHandler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	profiles, err := h.resolver.Profiles(r.Context(), actor)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", profiles)
}

func (h *RolesHandler) set(w http.ResponseWriter, r *http.Request) {
	var req dto.SetRoleRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	target := chi.URLParam(r, "identityId")
	role := models.Role(req.Role)
	if err := h.resolver.SetRole(r.Context(), actor, target, role); err != nil {
		respond.FromError(w, err, nil)
		return
	}
	respond.JSON(w, http.StatusOK, "role updated", models.IdentityProfile{IdentityID: target, Role: role})
}

// stream emits the full profile directory on every change.
func (h *RolesHandler) stream(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	watch, err := h.resolver.Directory(r.Context(), actor)
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
		case profiles, ok := <-watch.Updates():
			if !ok {
				return
			}
			if err := es.send("profiles", profiles); err != nil {
				return
			}
		}
	}
}
