package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker holds the probes reported by /healthz. Nil probes are skipped.
type Checker struct {
	ChainPing    func(ctx context.Context) error
	RegistryPing func(ctx context.Context) error
	DBPing       func(ctx context.Context) error
}

// Handler returns the /healthz mux.
func Handler(checker Checker) http.Handler {
	probes := []struct {
		name string
		ping func(ctx context.Context) error
	}{
		{"chain", checker.ChainPing},
		{"registry", checker.RegistryPing},
		{"db", checker.DBPing},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		for _, p := range probes {
			if p.ping == nil {
				continue
			}
			if err := p.ping(ctx); err != nil {
				status[p.name] = "fail"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				status[p.name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

// Serve starts the /healthz handler on addr.
func Serve(addr string, checker Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
