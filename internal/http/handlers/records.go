package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/middleware"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/models/dto"
	"github.com/hongminglow/flatkeeper/internal/report"
	"github.com/hongminglow/flatkeeper/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RecordsHandler serves the administrator's properties, flats and tenants.
// Every request works in the namespace of the authenticated actor.
type RecordsHandler struct {
	deps      repository.Deps
	projector repository.Projector
}

func NewRecordsHandler(deps repository.Deps, projector repository.Projector) *RecordsHandler {
	return &RecordsHandler{deps: deps, projector: projector}
}

// Register mounts the record routes. The router must run the
// authentication middleware.
func (h *RecordsHandler) Register(r chi.Router) {
	r.Route("/properties", func(r chi.Router) {
		r.Get("/", h.listProperties)
		r.Post("/", h.createProperty)
		r.Put("/{id}", h.updateProperty)
		r.Delete("/{id}", h.deleteProperty)
	})
	r.Route("/flats", func(r chi.Router) {
		r.Get("/", h.listFlats)
		r.Post("/", h.createFlat)
		r.Put("/{id}", h.updateFlat)
		r.Delete("/{id}", h.deleteFlat)
	})
	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", h.listTenants)
		r.Post("/", h.createTenant)
		r.Post("/resync", h.resyncTenants)
		r.Get("/export", h.exportTenants)
		r.Put("/{id}", h.updateTenant)
		r.Put("/{id}/paid", h.setTenantPaid)
		r.Delete("/{id}", h.deleteTenant)
	})
}

func (h *RecordsHandler) properties(r *http.Request) *repository.Properties {
	actor, _ := middleware.ActorFrom(r.Context())
	return repository.NewProperties(h.deps, actor)
}

func (h *RecordsHandler) flats(r *http.Request) *repository.Flats {
	actor, _ := middleware.ActorFrom(r.Context())
	return repository.NewFlats(h.deps, actor)
}

func (h *RecordsHandler) tenants(r *http.Request) *repository.Tenants {
	actor, _ := middleware.ActorFrom(r.Context())
	return repository.NewTenants(h.deps, actor, h.projector)
}

func (h *RecordsHandler) listProperties(w http.ResponseWriter, r *http.Request) {
	items, err := h.properties(r).List(r.Context())
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", items)
}

func (h *RecordsHandler) createProperty(w http.ResponseWriter, r *http.Request) {
	var in models.PropertyInput
	if !decode(w, r, &in) {
		return
	}
	id, err := h.properties(r).Create(r.Context(), in)
	created(w, id, err)
}

func (h *RecordsHandler) updateProperty(w http.ResponseWriter, r *http.Request) {
	var in models.PropertyInput
	if !decode(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "id")
	updated(w, id, h.properties(r).Update(r.Context(), id, in))
}

func (h *RecordsHandler) deleteProperty(w http.ResponseWriter, r *http.Request) {
	deleted(w, h.properties(r).Delete(r.Context(), chi.URLParam(r, "id")))
}

func (h *RecordsHandler) listFlats(w http.ResponseWriter, r *http.Request) {
	items, err := h.flats(r).List(r.Context())
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	if propertyID := r.URL.Query().Get("propertyId"); propertyID != "" {
		filtered := items[:0]
		for _, f := range items {
			if f.PropertyID == propertyID {
				filtered = append(filtered, f)
			}
		}
		items = filtered
	}
	respond.JSON(w, http.StatusOK, "ok", items)
}

func (h *RecordsHandler) createFlat(w http.ResponseWriter, r *http.Request) {
	var in models.FlatInput
	if !decode(w, r, &in) {
		return
	}
	id, err := h.flats(r).Create(r.Context(), in)
	created(w, id, err)
}

func (h *RecordsHandler) updateFlat(w http.ResponseWriter, r *http.Request) {
	var in models.FlatInput
	if !decode(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "id")
	updated(w, id, h.flats(r).Update(r.Context(), id, in))
}

func (h *RecordsHandler) deleteFlat(w http.ResponseWriter, r *http.Request) {
	deleted(w, h.flats(r).Delete(r.Context(), chi.URLParam(r, "id")))
}

func (h *RecordsHandler) listTenants(w http.ResponseWriter, r *http.Request) {
	snap, err := h.loadAll(r)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	q := r.URL.Query()
	filter := repository.TenantFilter{
		Search:     q.Get("search"),
		PropertyID: q.Get("propertyId"),
		FlatID:     q.Get("flatId"),
		Status:     repository.PaidStatus(q.Get("status")),
	}
	respond.JSON(w, http.StatusOK, "ok", repository.FilterTenants(snap.tenants, snap.properties, snap.flats, filter))
}

func (h *RecordsHandler) createTenant(w http.ResponseWriter, r *http.Request) {
	var in models.TenantInput
	if !decode(w, r, &in) {
		return
	}
	id, err := h.tenants(r).Create(r.Context(), in)
	created(w, id, err)
}

func (h *RecordsHandler) updateTenant(w http.ResponseWriter, r *http.Request) {
	var in models.TenantInput
	if !decode(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "id")
	updated(w, id, h.tenants(r).Update(r.Context(), id, in))
}

func (h *RecordsHandler) setTenantPaid(w http.ResponseWriter, r *http.Request) {
	var req dto.SetPaidRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	updated(w, id, h.tenants(r).SetPaid(r.Context(), id, req.IsPaid))
}

func (h *RecordsHandler) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tenants(r).Delete(r.Context(), id); err != nil {
		respond.FromError(w, err, dto.CreatedResponse{ID: id})
		return
	}
	respond.JSON(w, http.StatusOK, "deleted", nil)
}

func (h *RecordsHandler) resyncTenants(w http.ResponseWriter, r *http.Request) {
	n, err := h.tenants(r).Resync(r.Context())
	if err != nil {
		respond.FromError(w, err, dto.ResyncResponse{Written: n})
		return
	}
	respond.JSON(w, http.StatusOK, "tenant projections rewritten", dto.ResyncResponse{Written: n})
}

func (h *RecordsHandler) exportTenants(w http.ResponseWriter, r *http.Request) {
	snap, err := h.loadAll(r)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteTenants(&buf, snap.tenants, snap.properties, snap.flats); err != nil {
		respond.FromError(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="tenants.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type recordSet struct {
	properties []models.Property
	flats      []models.Flat
	tenants    []models.Tenant
}

// loadAll reads the three collections concurrently.
func (h *RecordsHandler) loadAll(r *http.Request) (recordSet, error) {
	var set recordSet
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		set.properties, err = h.properties(r).List(ctx)
		return err
	})
	g.Go(func() (err error) {
		set.flats, err = h.flats(r).List(ctx)
		return err
	})
	g.Go(func() (err error) {
		set.tenants, err = h.tenants(r).List(ctx)
		return err
	})
	return set, g.Wait()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func created(w http.ResponseWriter, id string, err error) {
	if err != nil {
		respond.FromError(w, err, dto.CreatedResponse{ID: id})
		return
	}
	respond.JSON(w, http.StatusCreated, "created", dto.CreatedResponse{ID: id})
}

func updated(w http.ResponseWriter, id string, err error) {
	if err != nil {
		respond.FromError(w, err, dto.CreatedResponse{ID: id})
		return
	}
	respond.JSON(w, http.StatusOK, "updated", dto.CreatedResponse{ID: id})
}

func deleted(w http.ResponseWriter, err error) {
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	respond.JSON(w, http.StatusOK, "deleted", nil)
}
