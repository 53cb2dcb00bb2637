package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devblac/cask-bridge/internal/metrics"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultBuffer = 256

// Client captures the subset of ethclient used for live log subscriptions.
type Client interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// DialFunc opens a fresh connection to the chain node.
type DialFunc func(ctx context.Context) (Client, error)

// DialWebsocket returns a DialFunc over ethclient. Subscriptions need a websocket (or IPC) endpoint.
func DialWebsocket(url string) DialFunc {
	return func(ctx context.Context) (Client, error) {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial chain node: %w", err)
		}
		return c, nil
	}
}

// FetchChainID asks the node for its chain id.
func FetchChainID(ctx context.Context, url string) (uint64, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("dial chain node: %w", err)
	}
	defer c.Close()
	id, err := c.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return id.Uint64(), nil
}

// State is the connection lifecycle of a Subscription.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateErrored
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateErrored:
		return "errored"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes a Watcher.
type Options struct {
	Contract       common.Address
	ChainID        uint64
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive reconnect attempts; 0 retries forever.
	MaxReconnects uint64
	Buffer        int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Watcher opens filtered subscriptions to the subscriptions contract.
type Watcher struct {
	dial    DialFunc
	decoder *Decoder
	opts    Options
}

// NewWatcher builds a watcher; zero-valued options fall back to defaults.
func NewWatcher(dial DialFunc, decoder *Decoder, opts Options) *Watcher {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{dial: dial, decoder: decoder, opts: opts}
}

// Subscription is a live, filtered view of the contract's subscription events.
// Events arrive on Events() until the subscription closes; missed events are not replayed.
type Subscription struct {
	w       *Watcher
	log     *slog.Logger
	filter  []common.Address
	allowed map[common.Address]struct{}
	queries []ethereum.FilterQuery

	events chan Event
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Open connects and installs one log subscription per variant, filtered to the given providers.
// It returns once the initial connection is up; the filter is reused verbatim on every reconnect.
func (w *Watcher) Open(ctx context.Context, filter []common.Address) (*Subscription, error) {
	if len(filter) == 0 {
		return nil, ErrEmptyFilter
	}

	s := &Subscription{
		w:       w,
		log:     w.opts.Logger.With("component", "subscription"),
		filter:  append([]common.Address(nil), filter...),
		allowed: make(map[common.Address]struct{}, len(filter)),
		events:  make(chan Event, w.opts.Buffer),
		done:    make(chan struct{}),
	}
	for _, p := range filter {
		s.allowed[p] = struct{}{}
	}
	s.queries = w.queries(s.filter)
	s.setState(StateConnecting)

	runCtx, cancel := context.WithCancel(ctx)
	conn, err := s.connect(runCtx)
	if err != nil {
		cancel()
		s.setState(StateClosed)
		return nil, err
	}
	s.cancel = cancel
	s.setState(StateOpen)
	s.log.Info("subscription open", "contract", w.opts.Contract.Hex(), "providers", len(s.filter), "variants", len(s.queries))

	go s.run(runCtx, conn)
	return s, nil
}

// queries builds one filter per variant: contract address, topic0 = event id, topic2 = provider.
func (w *Watcher) queries(filter []common.Address) []ethereum.FilterQuery {
	providerTopics := make([]common.Hash, 0, len(filter))
	for _, p := range filter {
		providerTopics = append(providerTopics, common.BytesToHash(p.Bytes()))
	}
	out := make([]ethereum.FilterQuery, 0, len(Variants))
	for _, v := range Variants {
		out = append(out, ethereum.FilterQuery{
			Addresses: []common.Address{w.opts.Contract},
			Topics:    [][]common.Hash{{w.decoder.Topic(v)}, nil, providerTopics},
		})
	}
	return out
}

// Events yields decoded events. The channel closes when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Filter returns the provider filter this subscription was opened with.
func (s *Subscription) Filter() []common.Address {
	return append([]common.Address(nil), s.filter...)
}

// State reports the current connection state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Err returns the terminal error once the subscription has closed on its own.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the subscription and waits for its loop to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type connection struct {
	client Client
	subs   []ethereum.Subscription
	logs   chan types.Log
	errc   chan error
}

func (c *connection) close() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.client.Close()
}

func (s *Subscription) connect(ctx context.Context) (*connection, error) {
	client, err := s.w.dial(ctx)
	if err != nil {
		return nil, err
	}
	conn := &connection{
		client: client,
		logs:   make(chan types.Log, s.w.opts.Buffer),
	}
	for i, q := range s.queries {
		sub, err := client.SubscribeFilterLogs(ctx, q, conn.logs)
		if err != nil {
			conn.close()
			return nil, fmt.Errorf("subscribe %s: %w", Variants[i].Event, err)
		}
		conn.subs = append(conn.subs, sub)
	}

	// Buffered so forwarders never block after the connection is abandoned.
	conn.errc = make(chan error, len(conn.subs))
	for _, sub := range conn.subs {
		go func(sub ethereum.Subscription) {
			err, ok := <-sub.Err()
			if !ok || err == nil {
				err = ErrConnectionLost
			}
			conn.errc <- err
		}(sub)
	}
	return conn, nil
}

func (s *Subscription) run(ctx context.Context, conn *connection) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			conn.close()
			s.setState(StateClosed)
			s.log.Info("subscription closed")
			return
		case lg := <-conn.logs:
			s.handleLog(ctx, lg)
		case err := <-conn.errc:
			conn.close()
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return
			}
			s.setState(StateErrored)
			s.log.Warn("chain stream lost", "error", err)
			s.w.opts.Metrics.Errors()

			next, err := s.reconnect(ctx)
			if err != nil {
				s.setState(StateClosed)
				if !errors.Is(err, context.Canceled) {
					s.setErr(err)
					s.log.Error("subscription stopped", "error", err)
				}
				return
			}
			conn = next
			s.setState(StateOpen)
			s.w.opts.Metrics.Reconnected()
			s.log.Info("subscription reopened", "providers", len(s.filter))
		}
	}
}

// reconnect waits the fixed delay before each attempt and gives up after MaxReconnects.
func (s *Subscription) reconnect(ctx context.Context) (*connection, error) {
	s.setState(StateReconnecting)

	var policy backoff.BackOff = backoff.NewConstantBackOff(s.w.opts.ReconnectDelay)
	if s.w.opts.MaxReconnects > 0 {
		policy = backoff.WithMaxRetries(policy, s.w.opts.MaxReconnects)
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	for {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempt)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
		conn, err := s.connect(ctx)
		if err == nil {
			return conn, nil
		}
		s.log.Warn("reconnect failed", "attempt", attempt, "error", err)
	}
}

func (s *Subscription) handleLog(ctx context.Context, lg types.Log) {
	ev, err := s.w.decoder.Decode(lg, s.w.opts.ChainID)
	if err != nil {
		s.log.Warn("dropping undecodable log", "tx", lg.TxHash.Hex(), "index", lg.Index, "error", err)
		s.w.opts.Metrics.EventDropped(metrics.DropDecode)
		return
	}
	if lg.Removed {
		s.log.Info("dropping removed log", "event", ev.Name(), "tx", lg.TxHash.Hex(), "block", lg.BlockNumber)
		s.w.opts.Metrics.EventDropped(metrics.DropRemoved)
		return
	}
	if _, ok := s.allowed[ev.Provider]; !ok {
		s.log.Debug("dropping event for unfiltered provider", "event", ev.Name(), "provider", ev.Provider.Hex())
		s.w.opts.Metrics.EventDropped(metrics.DropFiltered)
		return
	}

	s.w.opts.Metrics.EventReceived(ev.Name())
	s.log.Debug("event received",
		"event", ev.Name(),
		"provider", ev.Provider.Hex(),
		"consumer", ev.Consumer.Hex(),
		"subscription", subscriptionHex(ev.SubscriptionID),
		"block", lg.BlockNumber,
		"tx", lg.TxHash.Hex(),
	)

	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func subscriptionHex(id *big.Int) string {
	if id == nil {
		return ""
	}
	return "0x" + id.Text(16)
}
