package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/varbridge/varbridge/internal/repo"
)

// NewSyncHandler exposes the manual full-sync trigger.
// POST /sync → 202, the walk happens on the bridge loop after the debounce.
func NewSyncHandler(b *Bridge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b.TriggerFullSync()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})
}

// NewPendingHandler lists outstanding remote actions, the operator's window
// into acknowledgements that never came back.
func NewPendingHandler(r *repo.Repo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		pending, err := r.ListPending(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if pending == nil {
			pending = []repo.PendingAction{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pending)
	})
}
