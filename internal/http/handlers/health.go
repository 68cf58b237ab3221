package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WorkerStats reports the embedded scheduler's counters.
func (a *App) WorkerStats(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		a.error(w, http.StatusNotFound, "not_found", "no scheduler runs in this process")
		return
	}
	a.json(w, http.StatusOK, a.Scheduler.Stats())
}
