package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/varbridge/varbridge/internal/repo"
)

type healthHandler struct {
	mqtt paho.Client
	repo *repo.Repo
}

// NewHealthHandler reports liveness of the two hard dependencies.
func NewHealthHandler(m paho.Client, r *repo.Repo) http.Handler {
	return &healthHandler{mqtt: m, repo: r}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	type status struct {
		Status        string `json:"status"`
		MQTTConnected bool   `json:"mqtt_connected"`
		RepoOK        bool   `json:"repo_ok"`
	}
	st := status{
		MQTTConnected: h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		RepoOK:        h.repo != nil && h.repo.Ping(ctx) == nil,
	}
	switch {
	case st.MQTTConnected && st.RepoOK:
		st.Status = "ok"
	case st.MQTTConnected || st.RepoOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	mqtt paho.Client
	repo *repo.Repo
}

// NewReadyHandler answers 200 only when both dependencies are usable.
func NewReadyHandler(m paho.Client, r *repo.Repo) http.Handler {
	return &readyHandler{mqtt: m, repo: r}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() &&
		h.repo != nil && h.repo.Ping(ctx) == nil
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}
