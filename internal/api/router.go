// Package api serves the teacher review surface and the compliance reads
// over HTTP. Teachers list, inspect and resolve the concerns raised for
// their rosters; compliance tooling streams the filtered-content log; other
// services may evaluate messages here instead of over NATS.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/brightboard/safety-gate/internal/audit"
	"github.com/brightboard/safety-gate/internal/concern"
	"github.com/brightboard/safety-gate/internal/gate"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/metrics"
	"github.com/brightboard/safety-gate/internal/ratelimit"
)

// Evaluator is the gate as seen by the HTTP evaluate endpoint.
type Evaluator interface {
	Evaluate(ctx context.Context, m message.Inbound) (gate.Decision, error)
}

// Container holds the dependencies of the router. Gate and Limiter may be
// nil; without a Gate the evaluate endpoint is not mounted.
type Container struct {
	Auth     *Authenticator
	Concerns *concern.Queue
	Audit    *audit.Logger
	Gate     Evaluator
	Limiter  *ratelimit.Limiter
}

// NewRouter creates the API router with all endpoints.
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()
	h := &handler{concerns: c.Concerns, audit: c.Audit, gate: c.Gate}
	limit := &limitMiddleware{limiter: c.Limiter}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Teacher review routes
	review := v1.NewRoute().Subrouter()
	review.Use(c.Auth.Require(RoleTeacher))
	review.Handle("/concerns", limit.wrap(ratelimit.RuleReviewRead, h.listConcerns)).Methods(http.MethodGet)
	review.Handle("/concerns/{id}", limit.wrap(ratelimit.RuleReviewRead, h.getConcern)).Methods(http.MethodGet)
	review.Handle("/concerns/{id}/status", limit.wrap(ratelimit.RuleReviewWrite, h.updateStatus)).Methods(http.MethodPatch)

	// Compliance routes
	compliance := v1.NewRoute().Subrouter()
	compliance.Use(c.Auth.Require(RoleCompliance))
	compliance.Handle("/filtered", limit.wrap(ratelimit.RuleReviewRead, h.listFiltered)).Methods(http.MethodGet)

	if c.Gate != nil {
		service := v1.NewRoute().Subrouter()
		service.Use(c.Auth.Require(RoleService))
		service.Handle("/evaluate", limit.wrap(ratelimit.RuleEvaluate, h.evaluate)).Methods(http.MethodPost)
	}

	return r
}
