package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/jonwraymond/relia/resilience"
)

// LivenessHandler answers "OK" while the process is serving.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "OK")
	}
}

// ReadinessHandler runs every check in agg. Degraded is still ready:
// open circuits fail fast and do not make the process unable to serve.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		switch Overall(agg.CheckAll(ctx)) {
		case StatusHealthy:
			writeText(w, http.StatusOK, "OK")
		case StatusDegraded:
			writeText(w, http.StatusOK, "DEGRADED")
		default:
			writeText(w, http.StatusServiceUnavailable, "UNHEALTHY")
		}
	}
}

// HealthResponse is the JSON response for the detailed health endpoint.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON response for a single health check.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func checkResponse(r Result) CheckResponse {
	resp := CheckResponse{
		Status:   r.Status.String(),
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		resp.Error = r.Error.Error()
	}
	return resp
}

// DetailedHandler reports every check as JSON.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		results := agg.CheckAll(ctx)
		status := Overall(results)

		resp := HealthResponse{
			Status:    status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(results)),
		}
		for name, result := range results {
			resp.Checks[name] = checkResponse(result)
		}
		writeJSON(w, httpStatus(status), resp)
	}
}

// SingleCheckHandler reports the check registered under name.
func SingleCheckHandler(agg *Aggregator, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := agg.Check(ctx, name)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, httpStatus(result.Status), checkResponse(result))
	}
}

// CircuitsHandler lists every known circuit of cb, sorted by service.
func CircuitsHandler(cb *resilience.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cb == nil {
			writeError(w, http.StatusNotFound, ErrNoCircuitBreaker)
			return
		}
		snaps := cb.Snapshots()
		resp := make([]CircuitResponse, 0, len(snaps))
		for _, s := range snaps {
			resp = append(resp, circuitResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ResetCircuitHandler closes the circuit named by the {service} path
// value. Unknown services answer 404 rather than creating a circuit.
func ResetCircuitHandler(cb *resilience.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cb == nil {
			writeError(w, http.StatusNotFound, ErrNoCircuitBreaker)
			return
		}
		service := r.PathValue("service")
		known := slices.ContainsFunc(cb.Snapshots(), func(s resilience.CircuitSnapshot) bool {
			return s.Service == service
		})
		if !known {
			writeError(w, http.StatusNotFound, ErrCircuitNotFound)
			return
		}
		cb.Reset(service)
		writeJSON(w, http.StatusOK, circuitResponse(cb.Snapshot(service)))
	}
}

// RegisterHandlers registers the probe and detail handlers on mux.
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator) {
	mux.HandleFunc("GET /healthz", LivenessHandler())
	mux.HandleFunc("GET /readyz", ReadinessHandler(agg))
	mux.HandleFunc("GET /health", DetailedHandler(agg))
}

// RegisterCircuitHandlers registers the circuit listing and reset
// handlers on mux.
func RegisterCircuitHandlers(mux *http.ServeMux, cb *resilience.CircuitBreaker) {
	mux.HandleFunc("GET /circuits", CircuitsHandler(cb))
	mux.HandleFunc("POST /circuits/{service}/reset", ResetCircuitHandler(cb))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
