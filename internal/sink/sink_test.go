package sink

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/devblac/cask-bridge/internal/logging"
	"github.com/devblac/cask-bridge/internal/payload"
	"github.com/ethereum/go-ethereum/common"
)

func samplePayload() payload.Webhook {
	return payload.Normalize(chain.Event{
		Variant:        chain.Renewed,
		Consumer:       common.HexToAddress("0xc01"),
		Provider:       common.HexToAddress("0xaaa"),
		SubscriptionID: big.NewInt(42),
		PlanID:         3,
		Context:        chain.Context{BlockNumber: 10, ChainID: 137},
	})
}

func TestDeliverPostsJSON(t *testing.T) {
	var (
		gotMethod string
		gotType   string
		gotBody   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	out := NewDispatcher(time.Second, logging.Discard()).Deliver(context.Background(), server.URL, samplePayload())
	if !out.OK() || out.Status != http.StatusOK {
		t.Fatalf("unexpected outcome %s", out)
	}
	if gotMethod != http.MethodPost || gotType != "application/json" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotType)
	}
	if gotBody["event"] != "SubscriptionRenewed" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestDeliverClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"ok", http.StatusOK, Delivered},
		{"accepted", http.StatusAccepted, Delivered},
		{"redirect is final", http.StatusFound, Delivered},
		{"client error", http.StatusNotFound, RemoteRejected},
		{"server error", http.StatusInternalServerError, RemoteRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			out := NewDispatcher(time.Second, logging.Discard()).Deliver(context.Background(), server.URL, samplePayload())
			if out.Kind != tt.kind || out.Status != tt.status {
				t.Fatalf("expected %s/%d, got %s", tt.kind, tt.status, out)
			}
			if n := hits.Load(); n != 1 {
				t.Fatalf("expected exactly one request, got %d", n)
			}
		})
	}
}

func TestDeliverTransportFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	out := NewDispatcher(time.Second, logging.Discard()).Deliver(context.Background(), "http://"+addr, samplePayload())
	if out.Kind != TransportFailed || out.Reason == "" {
		t.Fatalf("expected transport failure, got %s", out)
	}
}

func TestDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	out := NewDispatcher(50*time.Millisecond, logging.Discard()).Deliver(context.Background(), server.URL, samplePayload())
	if out.Kind != TransportFailed {
		t.Fatalf("expected timeout to be a transport failure, got %s", out)
	}
}

func TestDeliverInvalidEndpoint(t *testing.T) {
	out := NewDispatcher(time.Second, logging.Discard()).Deliver(context.Background(), "://bad", samplePayload())
	if out.Kind != TransportFailed {
		t.Fatalf("expected transport failure, got %s", out)
	}
}
