package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/octocrew/gh-automation-core/internal/ghgateway"
)

// maxWebhookBodySize bounds the webhook request body, mirroring
// server/webhook.go's DoS guard.
const maxWebhookBodySize = 1 << 20

func (d *daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	result, err := d.ing.Ingest(r.Context(), body, r.Header)
	if err != nil {
		var sigErr *ghgateway.InvalidSignatureError
		if errors.As(err, &sigErr) {
			http.Error(w, "invalid webhook signature", http.StatusUnauthorized)
			return
		}
		d.log.Error(err, "webhook ingest failed")
		http.Error(w, "rejected", http.StatusBadRequest)
		return
	}

	if result.PriorProcessed {
		writeJSON(w, http.StatusConflict, result.PriorResult)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// healthzResponse mirrors server/healthcheck.go's HealthzResponse shape.
type healthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (d *daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{
		Status: "ok",
		Uptime: time.Since(d.startedAt).String(),
	})
}

func (d *daemon) handleOperatorHealth(w http.ResponseWriter, r *http.Request) {
	snapshot, err := d.cyc.Health(r.Context(), 20)
	if err != nil {
		http.Error(w, "failed to assemble health snapshot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (d *daemon) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	metrics, err := d.st.GetCycleMetricsByID(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to fetch cycle", http.StatusInternalServerError)
		return
	}
	if metrics == nil {
		http.Error(w, "cycle not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (d *daemon) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, err := parseActionID(r)
	if err != nil {
		http.Error(w, "invalid action id", http.StatusBadRequest)
		return
	}
	action, err := d.st.GetAction(r.Context(), id)
	if err != nil {
		http.Error(w, "action not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (d *daemon) handleRollbackAction(w http.ResponseWriter, r *http.Request) {
	id, err := parseActionID(r)
	if err != nil {
		http.Error(w, "invalid action id", http.StatusBadRequest)
		return
	}

	var req rollbackRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "operator_requested"
	}

	if err := d.ex.Rollback(r.Context(), id, req.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

func parseActionID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
