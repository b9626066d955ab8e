package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/middleware"
	"github.com/hongminglow/flatkeeper/internal/overview"
	"github.com/hongminglow/flatkeeper/internal/repository"
)

// OverviewHandler serves dashboard totals as a snapshot or a live stream.
type OverviewHandler struct {
	deps         repository.Deps
	readyTimeout time.Duration
	log          *zap.Logger
}

func NewOverviewHandler(deps repository.Deps, log *zap.Logger) *OverviewHandler {
	return &OverviewHandler{deps: deps, readyTimeout: 5 * time.Second, log: logging.OrNop(log)}
}

func (h *OverviewHandler) Register(r chi.Router) {
	r.Get("/overview", h.snapshot)
	r.Get("/overview/stream", h.stream)
}

func (h *OverviewHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	view, err := overview.Open(r.Context(), h.deps, actor)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	defer view.Close()

	timer := time.NewTimer(h.readyTimeout)
	defer timer.Stop()
	select {
	case <-view.Ready():
		respond.JSON(w, http.StatusOK, "ok", view.Current())
	case <-view.Done():
		respond.FromError(w, view.Err(), nil)
	case <-timer.C:
		respond.Error(w, http.StatusServiceUnavailable, "overview not ready")
	case <-r.Context().Done():
	}
}

// stream writes every summary change as a server-sent event.
func (h *OverviewHandler) stream(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	view, err := overview.Open(r.Context(), h.deps, actor)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	defer view.Close()

	es, ok := openStream(w, h.log)
	if !ok {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case summary, ok := <-view.Updates():
			if !ok {
				es.fail(view.Err())
				return
			}
			if err := es.send("summary", summary); err != nil {
				return
			}
		}
	}
}
