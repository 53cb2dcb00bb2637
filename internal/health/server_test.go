package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devblac/cask-bridge/internal/chain"
)

func ok(context.Context) error { return nil }
func fail(context.Context) error { return context.DeadlineExceeded }

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		checker    Checker
		wantCode   int
		wantStatus string
		want       map[string]string
	}{
		{
			name:       "all_ok",
			checker:    Checker{ChainPing: ok, RegistryPing: ok, DBPing: ok},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			want:       map[string]string{"chain": "ok", "registry": "ok", "db": "ok"},
		},
		{
			name:       "chain_down",
			checker:    Checker{ChainPing: fail, DBPing: ok},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       map[string]string{"chain": "fail", "db": "ok"},
		},
		{
			name:       "registry_down",
			checker:    Checker{ChainPing: ok, RegistryPing: fail},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       map[string]string{"chain": "ok", "registry": "fail"},
		},
		{
			name:       "db_fail",
			checker:    Checker{DBPing: fail},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       map[string]string{"db": "fail"},
		},
		{
			name:       "no_checkers",
			checker:    Checker{},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			want:       map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
			w := httptest.NewRecorder()

			Handler(tt.checker).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp["status"], tt.wantStatus)
			}
			if len(resp) != len(tt.want)+1 {
				t.Errorf("unexpected probes in %v", resp)
			}
			for k, v := range tt.want {
				if resp[k] != v {
					t.Errorf("%s = %q, want %q", k, resp[k], v)
				}
			}
		})
	}
}

type fixedState chain.State

func (s fixedState) State() chain.State { return chain.State(s) }

func TestSubscriptionChecker(t *testing.T) {
	if err := NewSubscriptionChecker(fixedState(chain.StateOpen)).Ping(context.Background()); err != nil {
		t.Fatalf("open subscription should be healthy: %v", err)
	}
	if err := NewSubscriptionChecker(fixedState(chain.StateReconnecting)).Ping(context.Background()); err == nil {
		t.Fatalf("reconnecting subscription should be unhealthy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewSubscriptionChecker(fixedState(chain.StateOpen)).Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled context, got %v", err)
	}
}
