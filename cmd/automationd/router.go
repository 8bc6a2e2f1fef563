package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// router wires the webhook endpoint, liveness probe, and operator API.
// Grounded on server/api.go's initRouter — unauthenticated webhook route
// plus a versioned subrouter — generalized from Mattermost session
// middleware to the bearer-token middleware a standalone daemon needs.
func (d *daemon) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/webhooks/github", d.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)

	operator := r.PathPrefix("/api/v1").Subrouter()
	operator.Use(d.requireOperatorToken)
	operator.HandleFunc("/cycles/{id}", d.handleGetCycle).Methods(http.MethodGet)
	operator.HandleFunc("/actions/{id}", d.handleGetAction).Methods(http.MethodGet)
	operator.HandleFunc("/actions/{id}/rollback", d.handleRollbackAction).Methods(http.MethodPost)
	operator.HandleFunc("/health", d.handleOperatorHealth).Methods(http.MethodGet)

	return r
}

// requireOperatorToken rejects requests missing the configured operator
// bearer token. Left permissive (no-op) when no token is configured, so a
// local/dev deployment need not set one up front.
func (d *daemon) requireOperatorToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := d.cfg.Get().OperatorAPIToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
