package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stockrelay/stockrelay/server/internal/auth"
	"github.com/stockrelay/stockrelay/server/internal/ingest"
	"github.com/stockrelay/stockrelay/server/internal/metrics"
	"github.com/stockrelay/stockrelay/server/internal/store"
)

// maxBodyBytes bounds request bodies; a batch is a few hundred items at most.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty body")

// Options wires the handler to its collaborators. Metrics may be nil.
type Options struct {
	Store   *store.Store
	Parser  *ingest.Parser
	Guard   *auth.Guard
	Metrics *metrics.Metrics

	// OnChange, if set, is called after every successful write.
	OnChange func()
}

// Handler serves /api/stock and /healthz.
type Handler struct {
	store    *store.Store
	parser   *ingest.Parser
	metrics  *metrics.Metrics
	onChange func()
	router   chi.Router
}

// New creates a Handler and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{
		store:    opts.Store,
		parser:   opts.Parser,
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
		router:   chi.NewRouter(),
	}

	r := h.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(recoverJSON)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", h.health)
	r.Route("/api/stock", func(r chi.Router) {
		r.Use(opts.Guard.Middleware)
		r.Use(h.metrics.Instrument)
		r.Get("/", h.read)
		r.Post("/", h.create)
		r.Put("/", h.update)
		r.Delete("/", h.remove)
		r.Patch("/", h.touch)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// BuildList sweeps st and returns the list payload served to viewers along
// with the number of entries the sweep removed.
func BuildList(st *store.Store, public bool) (ListResponse, int) {
	swept := st.SweepNow()
	entries := st.List()
	resp := ListResponse{
		Data:        entries,
		Count:       len(entries),
		LastCleanup: st.LastCleanup().UTC(),
	}
	if public {
		resp.Access = "public"
	}
	return resp, swept
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok", Entries: h.store.Count()})
}

// read serves GET /api/stock, by id or as a list.
func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		resp, swept := BuildList(h.store, auth.IsPublic(r.Context()))
		h.metrics.ObserveSwept(swept)
		jsonResp(w, http.StatusOK, resp)
		return
	}

	h.metrics.ObserveSwept(h.store.SweepNow())
	e, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "Not found")
		return
	}
	jsonResp(w, http.StatusOK, e)
}

// create serves POST /api/stock. A session batch is recognised before the
// body is validated as a generic record.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if h.parser.IsBatch(body) {
		b := h.parser.ParseBatch(body)
		for _, e := range b.Entries {
			h.store.Upsert(e)
		}
		h.metrics.ObserveUpserts(metrics.SourceBatch, len(b.Entries))
		h.metrics.ObserveSkipped(b.Summary.Skipped)
		slog.Info("api: session batch stored",
			"session", ingest.SessionSuffix(b.Summary.SessionID),
			"entries", len(b.Entries),
			"skipped", b.Summary.Skipped,
		)
		h.changed()
		jsonResp(w, http.StatusCreated, b.Summary)
		return
	}

	e, err := h.parser.ParseRecord(body)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	stored := h.store.Upsert(e)
	h.metrics.ObserveUpserts(metrics.SourceManual, 1)
	slog.Debug("api: entry created", "id", stored.ID)
	h.changed()
	jsonResp(w, http.StatusCreated, stored)
}

// update serves PUT /api/stock.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	id, patch, err := ingest.ParsePatch(body)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e, found := h.store.UpdatePartial(id, patch)
	if !found {
		jsonErr(w, http.StatusNotFound, "Not found")
		return
	}
	h.metrics.ObserveUpserts(metrics.SourceManual, 1)
	h.changed()
	jsonResp(w, http.StatusOK, e)
}

// remove serves DELETE /api/stock, by id query or by session body.
func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		e, ok := h.store.Delete(id)
		if !ok {
			jsonErr(w, http.StatusNotFound, "Not found")
			return
		}
		h.metrics.ObserveDeletes(metrics.DeleteByID, 1)
		h.changed()
		jsonResp(w, http.StatusOK, DeleteResponse{Success: true, Deleted: e})
		return
	}

	body, err := decodeBody(w, r)
	if errors.Is(err, errEmptyBody) {
		jsonErr(w, http.StatusBadRequest, "id query parameter or sessionId body required")
		return
	}
	if err != nil {
		internalErr(w, err)
		return
	}
	sid, _ := body["sessionId"].(string)
	if sid == "" {
		jsonErr(w, http.StatusBadRequest, "id query parameter or sessionId body required")
		return
	}
	reason, _ := body["reason"].(string)

	n := h.store.DeleteBySessionSuffix(ingest.SessionSuffix(sid))
	h.metrics.ObserveDeletes(metrics.DeleteBySession, n)
	h.changed()
	slog.Info("api: session entries deleted",
		"session", ingest.SessionSuffix(sid), "count", n, "reason", reason)
	jsonResp(w, http.StatusOK, SessionDeleteResponse{Success: true, DeletedCount: n, Reason: reason})
}

// touch serves PATCH /api/stock, the keep-alive ping.
func (h *Handler) touch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	id, _ := body["id"].(string)
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "missing id")
		return
	}
	ts, found := h.store.Touch(id)
	if !found {
		jsonErr(w, http.StatusNotFound, "Not found")
		return
	}
	h.changed()
	jsonResp(w, http.StatusOK, TouchResponse{Success: true, ID: id, LastUpdated: ts.UTC()})
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// decodeBody decodes the request body as a JSON object. An absent body
// yields errEmptyBody.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var body map[string]any
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if errors.Is(err, io.EOF) {
		return nil, errEmptyBody
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body is not a JSON object")
	}
	return body, nil
}

// readBody decodes the body and writes the error response itself on failure.
// An absent body decodes as an empty object so field validation answers 400.
func readBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := decodeBody(w, r)
	if errors.Is(err, errEmptyBody) {
		return map[string]any{}, true
	}
	if err != nil {
		internalErr(w, err)
		return nil, false
	}
	return body, true
}

func internalErr(w http.ResponseWriter, err error) {
	slog.Warn("api: request body rejected", "err", err)
	jsonErr(w, http.StatusInternalServerError, "Internal server error")
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
