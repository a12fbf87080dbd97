package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/brightboard/safety-gate/internal/audit"
	"github.com/brightboard/safety-gate/internal/concern"
	"github.com/brightboard/safety-gate/internal/gate"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/ratelimit"
)

// Default conversation context around a concern's message.
const (
	defaultContextBefore = 10
	defaultContextAfter  = 5
)

// maxBodyBytes bounds request bodies; evaluate bodies carry one message.
const maxBodyBytes = 64 << 10

type handler struct {
	concerns *concern.Queue
	audit    *audit.Logger
	gate     Evaluator
}

// listConcerns handles GET /v1/concerns. A teacher only sees concerns
// routed to them.
func (h *handler) listConcerns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := intParam(q.Get("page_size"), concern.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_size")
		return
	}

	result, err := h.concerns.List(r.Context(), concern.Filter{
		Status:          concern.Status(q.Get("status")),
		SenderID:        q.Get("sender_id"),
		ReviewerOwnerID: CallerID(r.Context()),
		Page:            page,
		PageSize:        size,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// getConcern handles GET /v1/concerns/{id}.
func (h *handler) getConcern(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	before, err := intParam(q.Get("before"), defaultContextBefore)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before")
		return
	}
	after, err := intParam(q.Get("after"), defaultContextAfter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after")
		return
	}

	d, err := h.concerns.Detail(r.Context(), mux.Vars(r)["id"], CallerID(r.Context()), before, after)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type statusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

// updateStatus handles PATCH /v1/concerns/{id}/status.
func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := concern.ParseStatus(req.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	c, err := h.concerns.UpdateStatus(r.Context(), mux.Vars(r)["id"], CallerID(r.Context()), status, req.Notes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type filteredPage struct {
	Records []audit.FilteredContentRecord `json:"records"`
	NextID  string                        `json:"next_after_id,omitempty"`
}

// listFiltered handles GET /v1/filtered for compliance reporting.
func (h *handler) listFiltered(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	limit, err := intParam(q.Get("limit"), audit.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	recs, err := h.audit.List(r.Context(), audit.Query{Since: since, AfterID: q.Get("after_id"), Limit: limit})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := filteredPage{Records: recs}
	if len(recs) > 0 {
		out.NextID = recs[len(recs)-1].ID
	}
	writeJSON(w, http.StatusOK, out)
}

// evaluate handles POST /v1/evaluate.
func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var m message.Inbound
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := h.gate.Evaluate(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gate.DecisionMessage(d))
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

type limitMiddleware struct {
	limiter *ratelimit.Limiter
}

// wrap applies rule per authenticated caller. Limiter errors fail open.
func (m *limitMiddleware) wrap(rule ratelimit.Rule, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerID(r.Context())
		ok, _ := m.limiter.Allow(r.Context(), caller, rule)
		if !ok {
			retry := m.limiter.RetryAfter(r.Context(), caller, rule)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, concern.ErrNotFound):
		writeError(w, http.StatusNotFound, "concern not found")
	case errors.Is(err, concern.ErrForbidden):
		writeError(w, http.StatusForbidden, "not permitted to review this concern")
	case errors.Is(err, concern.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid status")
	default:
		log.Printf("[api] ERROR %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
