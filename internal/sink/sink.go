package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/devblac/cask-bridge/internal/payload"
)

// Kind classifies a delivery attempt.
type Kind int

const (
	Delivered Kind = iota
	RemoteRejected
	TransportFailed
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RemoteRejected:
		return "rejected"
	case TransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one POST. Status is set for Delivered and RemoteRejected,
// Reason for TransportFailed.
type Outcome struct {
	Kind     Kind
	Status   int
	Reason   string
	Duration time.Duration
}

// OK reports whether the endpoint accepted the webhook.
func (o Outcome) OK() bool { return o.Kind == Delivered }

func (o Outcome) String() string {
	switch o.Kind {
	case TransportFailed:
		return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
	default:
		return fmt.Sprintf("%s (%d)", o.Kind, o.Status)
	}
}

// Sender delivers one webhook payload to one endpoint.
type Sender interface {
	Deliver(ctx context.Context, endpoint string, body payload.Webhook) Outcome
}

// Dispatcher POSTs payloads as JSON. It performs no retries.
type Dispatcher struct {
	client *http.Client
	log    *slog.Logger
}

// NewDispatcher builds a dispatcher whose requests are bounded by timeout.
func NewDispatcher(timeout time.Duration, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{client: defaultClient(timeout), log: log}
}

// Deliver performs a single POST and classifies the result. It never returns an error.
func (d *Dispatcher) Deliver(ctx context.Context, endpoint string, body payload.Webhook) Outcome {
	start := time.Now()
	failed := func(format string, args ...any) Outcome {
		return Outcome{Kind: TransportFailed, Reason: fmt.Sprintf(format, args...), Duration: time.Since(start)}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return failed("marshal body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return failed("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return failed("send request: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out := Outcome{Kind: Delivered, Status: resp.StatusCode, Duration: time.Since(start)}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		out.Kind = RemoteRejected
	}
	d.log.Debug("webhook response", "endpoint", endpoint, "event", body.Event, "status", resp.StatusCode, "duration", out.Duration)
	return out
}

func defaultClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
