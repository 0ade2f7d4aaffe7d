// Package httptransport is the thin HTTP layer over the aggregation engine.
// It exposes stored canonical state, live source search, subscription
// management and the manual sync trigger. Consumers never observe transient
// fetch failures here, only stored records and their last-synced timestamps.
package httptransport

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"casewatch/internal/cases/models"
	"casewatch/internal/metadata"
	"casewatch/internal/scheduler"
	"casewatch/internal/source"
	"casewatch/internal/store"
)

// Handler routes API requests to the engine components.
type Handler struct {
	adapters  map[models.CourtSource]source.Adapter
	cases     store.CaseStore
	tracked   store.TrackedCaseStore
	runs      store.SyncRunStore
	scheduler *scheduler.Scheduler
	directory *metadata.Service
	logger    *log.Logger
}

// New creates the API handler.
func New(adapters []source.Adapter, cases store.CaseStore, tracked store.TrackedCaseStore,
	runs store.SyncRunStore, sched *scheduler.Scheduler, directory *metadata.Service,
	logger *log.Logger) *Handler {

	bysrc := make(map[models.CourtSource]source.Adapter, len(adapters))
	for _, a := range adapters {
		bysrc[a.Source()] = a
	}
	return &Handler{
		adapters:  bysrc,
		cases:     cases,
		tracked:   tracked,
		runs:      runs,
		scheduler: sched,
		directory: directory,
		logger:    logger,
	}
}

// Router wires all public endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", h.handleSearch)
		r.Get("/cases/{source}", h.handleGetCase)

		r.Post("/tracked", h.handleTrack)
		r.Get("/tracked/{id}", h.handleGetTracked)
		r.Delete("/tracked/{id}", h.handleUntrack)

		r.Post("/sync", h.handleSync)
		r.Get("/sync/latest", h.handleLatestRun)

		if h.directory != nil {
			r.Get("/metadata/states", h.handleStates)
			r.Get("/metadata/districts", h.handleDistricts)
			r.Get("/metadata/complexes", h.handleComplexes)
			r.Get("/metadata/casetypes", h.handleCaseTypes)
		}
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSearch runs a live search against one source. The courtHint routing
// codes come through as plain query parameters.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	src, err := models.ParseCourtSource(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	adapter, ok := h.adapters[src]
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("no adapter configured for source"))
		return
	}

	q := r.URL.Query()
	criteria := source.SearchCriteria{
		NumberOrName: q.Get("number"),
		CaseType:     q.Get("case_type"),
		Year:         q.Get("year"),
		CourtHint:    map[string]string{},
	}
	for _, param := range []string{"state_code", "dist_code", "court_code", "bench"} {
		if v := q.Get(param); v != "" {
			criteria.CourtHint[param] = v
		}
	}
	if criteria.NumberOrName == "" {
		writeError(w, http.StatusBadRequest, errors.New("number is required"))
		return
	}

	matches, err := adapter.Search(r.Context(), criteria)
	if err != nil {
		h.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetCase returns the stored canonical record for an identity.
func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.cases.Get(r.Context(), identity.Key())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("case not synced yet"))
		return
	}
	if err != nil {
		h.internalError(w, "get case", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type trackRequest struct {
	Requester string              `json:"requester"`
	Identity  models.CaseIdentity `json:"identity"`
	Prefs     models.AlertPrefs   `json:"prefs"`
}

func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Requester == "" {
		writeError(w, http.StatusBadRequest, errors.New("requester is required"))
		return
	}
	if err := req.Identity.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tc := &models.TrackedCase{
		ID:        uuid.New(),
		Requester: req.Requester,
		Identity:  req.Identity,
		Prefs:     req.Prefs,
		CreatedAt: time.Now(),
	}
	err := h.tracked.Create(r.Context(), tc)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, errors.New("case already tracked by requester"))
		return
	}
	if err != nil {
		h.internalError(w, "create tracked case", err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (h *Handler) handleGetTracked(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid tracked case id"))
		return
	}
	tc, err := h.tracked.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("tracked case not found"))
		return
	}
	if err != nil {
		h.internalError(w, "get tracked case", err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (h *Handler) handleUntrack(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid tracked case id"))
		return
	}
	err = h.tracked.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("tracked case not found"))
		return
	}
	if err != nil {
		h.internalError(w, "delete tracked case", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync triggers one scheduler pass and returns its summary. The pass is
// idempotent and serialized; a concurrent trigger gets 409.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.RunOnce(r.Context())
	if errors.Is(err, scheduler.ErrRunInFlight) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.internalError(w, "sync run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("no sync run recorded yet"))
		return
	}
	if err != nil {
		h.internalError(w, "latest sync run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.directory.States(r.Context())
	if err != nil {
		h.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) handleDistricts(w http.ResponseWriter, r *http.Request) {
	stateCode := r.URL.Query().Get("state_code")
	if stateCode == "" {
		writeError(w, http.StatusBadRequest, errors.New("state_code is required"))
		return
	}
	districts, err := h.directory.Districts(r.Context(), stateCode)
	if err != nil {
		h.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, districts)
}

func (h *Handler) handleComplexes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateCode, distCode := q.Get("state_code"), q.Get("dist_code")
	if stateCode == "" || distCode == "" {
		writeError(w, http.StatusBadRequest, errors.New("state_code and dist_code are required"))
		return
	}
	complexes, err := h.directory.Complexes(r.Context(), stateCode, distCode)
	if err != nil {
		h.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, complexes)
}

func (h *Handler) handleCaseTypes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	types, err := h.directory.CaseTypes(r.Context(), q.Get("state_code"), q.Get("dist_code"), q.Get("court_code"))
	if err != nil {
		h.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func identityFromRequest(r *http.Request) (models.CaseIdentity, error) {
	src, err := models.ParseCourtSource(chi.URLParam(r, "source"))
	if err != nil {
		return models.CaseIdentity{}, err
	}
	q := r.URL.Query()
	identity := models.CaseIdentity{
		Source:   src,
		CNR:      q.Get("cnr"),
		CaseType: q.Get("case_type"),
		Number:   q.Get("number"),
		Year:     q.Get("year"),
	}
	if err := identity.Validate(); err != nil {
		return models.CaseIdentity{}, err
	}
	return identity, nil
}

// writeSourceError maps typed source failures onto HTTP statuses.
func (h *Handler) writeSourceError(w http.ResponseWriter, err error) {
	switch source.KindOf(err) {
	case source.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case source.KindValidation:
		writeError(w, http.StatusBadRequest, err)
	case source.KindRateLimited:
		writeError(w, http.StatusTooManyRequests, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Printf("http: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
