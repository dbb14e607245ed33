package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadyCheck is a named dependency check for the readiness probe.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// MountHealth registers /health/liveness, /health/readiness and /health
// (an alias of readiness) on mux.
func MountHealth(mux interface {
	Handle(pattern string, handler http.Handler)
}, checks ...ReadyCheck) {
	mux.Handle("/health/liveness", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, healthResponse{Status: "ok"})
	}))
	readiness := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results, ok := runChecks(r.Context(), checks)
		status := http.StatusOK
		resp := healthResponse{Status: "ok", Checks: results}
		if !ok {
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
		}
		writeHealth(w, status, resp)
	})
	mux.Handle("/health/readiness", readiness)
	mux.Handle("/health", readiness)
}

func runChecks(ctx context.Context, checks []ReadyCheck) (map[string]string, bool) {
	if len(checks) == 0 {
		return nil, true
	}
	results := make(map[string]string, len(checks))
	ok := true
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Check(cctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			ok = false
			continue
		}
		results[name] = "ok"
	}
	return results, ok
}

func writeHealth(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
