// Package bridge wires the chain subscription to webhook delivery.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/devblac/cask-bridge/internal/config"
	"github.com/devblac/cask-bridge/internal/metrics"
	"github.com/devblac/cask-bridge/internal/payload"
	"github.com/devblac/cask-bridge/internal/registry"
	"github.com/devblac/cask-bridge/internal/sink"
	"github.com/devblac/cask-bridge/internal/storage"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEndpointNotMapped is logged when an event's provider has no webhook endpoint.
var ErrEndpointNotMapped = errors.New("no webhook endpoint mapped for provider")

// ErrAlreadyStarted is returned by Start on a running service.
var ErrAlreadyStarted = errors.New("bridge already started")

// Opener opens filtered chain subscriptions. *chain.Watcher satisfies it.
type Opener interface {
	Open(ctx context.Context, filter []common.Address) (*chain.Subscription, error)
}

// Journal records delivery attempts. *storage.Store satisfies it.
type Journal interface {
	RecordDelivery(ctx context.Context, sourceID string, d storage.Delivery) error
}

// Options wires a Service. Registry, Journal, Metrics and Logger are optional.
type Options struct {
	Opener   Opener
	Sender   sink.Sender
	Registry *registry.Registry
	Journal  Journal
	// SourceID keys the journal cursor, usually "<chainId>:<contract>".
	SourceID string
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service forwards every subscription event to its provider's webhook. All mutable
// state lives on the instance.
type Service struct {
	opener   Opener
	sender   sink.Sender
	registry *registry.Registry
	journal  Journal
	sourceID string
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	sub      *chain.Subscription
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New builds an idle service.
func New(opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		opener:   opts.Opener,
		sender:   opts.Sender,
		registry: opts.Registry,
		journal:  opts.Journal,
		sourceID: opts.SourceID,
		metrics:  opts.Metrics,
		log:      opts.Logger.With("component", "bridge"),
	}
}

// Registry exposes the endpoint registry the service resolves through.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// RunSingleTenant maps every provider in the comma-separated list to endpoint, subscribes to
// exactly those providers and runs until ctx is done or the subscription gives up.
func (s *Service) RunSingleTenant(ctx context.Context, providerList, endpoint string) error {
	providers, err := ParseProviders(providerList)
	if err != nil {
		return err
	}
	for _, p := range providers {
		s.registry.Map(p, endpoint)
	}
	s.log.Info("single-tenant mode", "providers", len(providers))
	return s.run(ctx, providers)
}

// RunMultiTenant attaches store, subscribes to every provider it knows at startup and resolves
// endpoints through it per event.
func (s *Service) RunMultiTenant(ctx context.Context, store registry.Store) error {
	s.registry.Attach(store)
	providers, err := s.registry.ListKnownProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	s.log.Info("multi-tenant mode", "providers", len(providers))
	return s.run(ctx, providers)
}

func (s *Service) run(ctx context.Context, filter []common.Address) error {
	if err := s.Start(ctx, filter); err != nil {
		return err
	}
	defer s.Stop()
	return s.Wait(ctx)
}

// Start opens the subscription and begins dispatching events in the background.
func (s *Service) Start(ctx context.Context, filter []common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := s.opener.Open(ctx, filter)
	if err != nil {
		return fmt.Errorf("open subscription: %w", err)
	}
	s.sub = sub
	s.loopDone = make(chan struct{})

	// Deliveries outlive ctx so Stop can drain them; each is bounded by the client timeout.
	go s.loop(context.WithoutCancel(ctx), sub, s.loopDone)
	return nil
}

// Wait blocks until ctx is done (nil) or the subscription stops on its own (its error).
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return errors.New("bridge not started")
	}
	select {
	case <-ctx.Done():
		return nil
	case <-sub.Done():
		return sub.Err()
	}
}

// Stop closes the subscription and waits for in-flight deliveries. It is safe to call twice.
func (s *Service) Stop() {
	s.mu.Lock()
	sub, done := s.sub, s.loopDone
	s.sub, s.loopDone = nil, nil
	s.mu.Unlock()
	if sub == nil {
		return
	}

	sub.Close()
	<-done
	s.inflight.Wait()
	s.log.Info("bridge stopped")
}

// State reports the subscription state, or closed when not running.
func (s *Service) State() chain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return chain.StateClosed
	}
	return s.sub.State()
}

func (s *Service) loop(ctx context.Context, sub *chain.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		s.inflight.Add(1)
		go s.handle(ctx, ev)
	}
}

// handle runs one event end to end. Failures stay local to the event.
func (s *Service) handle(ctx context.Context, ev chain.Event) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.EventDropped(metrics.DropPanic)
			s.metrics.Errors()
			s.log.Error("event handler panic", "event", ev.Name(), "tx", ev.Context.TxHash.Hex(), "panic", r)
		}
	}()

	wh := payload.Normalize(ev)
	subID := payload.SubscriptionID(ev.SubscriptionID)
	log := s.log.With("event", ev.Name(), "provider", ev.Provider.Hex(), "subscription", subID)

	endpoint, ok, err := s.registry.Resolve(ctx, ev.Provider)
	if err != nil {
		s.metrics.EventDropped(metrics.DropUnavailable)
		s.metrics.Errors()
		log.Error("endpoint lookup failed", "error", err)
		return
	}
	if !ok {
		s.metrics.EventDropped(metrics.DropNotMapped)
		log.Warn("skipping event", "error", ErrEndpointNotMapped)
		return
	}

	log.Debug("dispatching webhook", "endpoint", endpoint, "block", ev.Context.BlockNumber, "tx", ev.Context.TxHash.Hex())
	out := s.sender.Deliver(ctx, endpoint, wh)
	s.metrics.Webhook(out.Kind.String())

	switch out.Kind {
	case sink.Delivered:
		log.Info("webhook delivered", "endpoint", endpoint, "status", out.Status, "duration", out.Duration)
	case sink.RemoteRejected:
		log.Warn("webhook rejected", "endpoint", endpoint, "status", out.Status)
	default:
		s.metrics.Errors()
		log.Warn("webhook failed", "endpoint", endpoint, "reason", out.Reason)
	}

	s.record(ctx, ev, subID, endpoint, out)
}

func (s *Service) record(ctx context.Context, ev chain.Event, subID, endpoint string, out sink.Outcome) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordDelivery(ctx, s.sourceID, storage.Delivery{
		Event:          ev.Name(),
		Provider:       ev.Provider.Hex(),
		SubscriptionID: subID,
		Endpoint:       endpoint,
		BlockNumber:    ev.Context.BlockNumber,
		BlockHash:      ev.Context.BlockHash.Hex(),
		TxHash:         ev.Context.TxHash.Hex(),
		LogIndex:       ev.Context.LogIndex,
		Outcome:        out.Kind.String(),
		StatusCode:     out.Status,
		Reason:         out.Reason,
		Duration:       out.Duration,
	})
	if err != nil {
		s.log.Warn("journal write failed", "event", ev.Name(), "error", err)
	}
}

// ParseProviders splits and validates a comma-separated provider list.
func ParseProviders(list string) ([]common.Address, error) {
	parts := config.SplitProviders(list)
	if len(parts) == 0 {
		return nil, chain.ErrEmptyFilter
	}
	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("invalid provider address %q", p)
		}
		addr := common.HexToAddress(p)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}
