// Package handler provides the HTTP handlers for the shopping list server.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/stevemurr/shopping-list-server/store"
)

var log = commonlog.GetLogger("shopping.handler")

// MaxBodyBytes caps request bodies at the 100kb JSON body parsers
// commonly default to.
const MaxBodyBytes = 100 << 10

// DocumentStore is the part of *store.DocumentStore the handlers use.
type DocumentStore interface {
	List(c store.Collection, filter string) ([]*store.Entity, error)
	Get(c store.Collection, id string) (*store.Entity, error)
	Insert(c store.Collection, payload *store.Entity) (*store.Entity, error)
	Update(c store.Collection, id string, payload *store.Entity) (*store.Entity, error)
	Delete(c store.Collection, id string) (int, error)
	Snapshot() *store.Document
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store   DocumentStore
	mux     *http.ServeMux
	methods []string
}

// New creates a Handler and wires up all routes.
func New(s DocumentStore) *Handler {
	h := &Handler{store: s, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler. Every request is logged once it
// has been answered.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	log.Infof("%s %s %d %s", r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Round(time.Microsecond))
}

func (h *Handler) routes() {
	// Status
	h.handle("GET /", h.root)
	h.handle("GET /health", h.health)
	h.handle("GET /db", h.dump)

	for _, c := range store.Collections {
		base := "/" + string(c)
		h.handle("GET "+base, h.list(c))
		h.handle("POST "+base, h.create(c))
		h.handle("GET "+base+"/{id}", h.get(c))
		// PUT and PATCH share merge semantics: omitted fields are kept.
		h.handle("PUT "+base+"/{id}", h.update(c))
		h.handle("PATCH "+base+"/{id}", h.update(c))
		h.handle("DELETE "+base+"/{id}", h.remove(c))
	}
}

// handle registers a "METHOD /path" pattern and records its method.
func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	if method, _, ok := strings.Cut(pattern, " "); ok && !slices.Contains(h.methods, method) {
		h.methods = append(h.methods, method)
	}
	h.mux.HandleFunc(pattern, fn)
}

// Methods lists the HTTP methods of the registered routes, in registration
// order, followed by OPTIONS for preflight requests.
func (h *Handler) Methods() []string {
	return append(slices.Clone(h.methods), http.MethodOptions)
}

// ---------- helpers ----------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warningf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a DocumentStore error to a status code.
func writeStoreError(w http.ResponseWriter, err error) {
	var (
		validation  *store.ValidationError
		persistence *store.PersistenceError
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &persistence):
		log.Errorf("%v", err)
		writeError(w, http.StatusInternalServerError, "failed to save data")
	default:
		log.Errorf("%v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

var errBodyTooLarge = errors.New("request entity too large")

// readPayload decodes a JSON object body of at most MaxBodyBytes. An empty
// body is an empty payload.
func readPayload(w http.ResponseWriter, r *http.Request) (*store.Entity, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	e := store.NewEntity()
	if len(body) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(body, e); err != nil {
		return nil, err
	}
	return e, nil
}

func writePayloadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Shopping List API is running!"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) dump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// ---------- collection endpoints ----------

func (h *Handler) list(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := h.store.List(c, r.URL.Query().Get(c.FilterField()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	}
}

func (h *Handler) get(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.store.Get(c, r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func (h *Handler) create(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := readPayload(w, r)
		if err != nil {
			writePayloadError(w, err)
			return
		}
		e, err := h.store.Insert(c, payload)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func (h *Handler) update(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := readPayload(w, r)
		if err != nil {
			writePayloadError(w, err)
			return
		}
		e, err := h.store.Update(c, r.PathValue("id"), payload)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func (h *Handler) remove(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.store.Delete(c, r.PathValue("id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
