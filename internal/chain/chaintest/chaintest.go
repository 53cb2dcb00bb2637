// Package chaintest provides an in-memory chain node for exercising subscriptions.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/devblac/cask-bridge/internal/chain"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Contract is the subscriptions contract address the fake node serves.
var Contract = common.HexToAddress("0x00000000000000000000000000000000000000c5")

// ErrDialRefused is returned by dials scheduled to fail.
var ErrDialRefused = errors.New("dial refused")

type installed struct {
	query ethereum.FilterQuery
	ch    chan<- types.Log
}

type conn struct {
	mu      sync.Mutex
	subs    []installed
	kill    chan struct{}
	killErr error
	closed  bool
}

func (c *conn) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	c.subs = append(c.subs, installed{query: q, ch: ch})
	c.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case <-c.kill:
			return c.killErr
		}
	}), nil
}

func (c *conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Node is a fake chain node. Each Dial opens a new connection; Drop severs the current one.
type Node struct {
	mu      sync.Mutex
	conns   []*conn
	failing int
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{}
}

// Dial satisfies chain.DialFunc.
func (n *Node) Dial(_ context.Context) (chain.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing > 0 {
		n.failing--
		return nil, ErrDialRefused
	}
	c := &conn{kill: make(chan struct{})}
	n.conns = append(n.conns, c)
	return c, nil
}

// FailDials makes the next count dials fail.
func (n *Node) FailDials(count int) {
	n.mu.Lock()
	n.failing = count
	n.mu.Unlock()
}

// Dials reports how many connections were opened.
func (n *Node) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Queries returns the filters installed on the i-th connection.
func (n *Node) Queries(i int) []ethereum.FilterQuery {
	n.mu.Lock()
	c := n.conns[i]
	n.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ethereum.FilterQuery, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s.query)
	}
	return out
}

// Closed reports whether the i-th connection was closed by the client.
func (n *Node) Closed(i int) bool {
	n.mu.Lock()
	c := n.conns[i]
	n.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drop severs the current connection; every subscription on it fails with err.
func (n *Node) Drop(err error) {
	c := n.current()
	if c == nil {
		return
	}
	c.killErr = err
	close(c.kill)
}

// Emit delivers lg on the current connection to every subscription whose filter matches,
// the way a node applies address and topic filters. It reports whether anything received it.
func (n *Node) Emit(lg types.Log) bool {
	c := n.current()
	if c == nil {
		return false
	}
	c.mu.Lock()
	subs := append([]installed(nil), c.subs...)
	c.mu.Unlock()

	delivered := false
	for _, s := range subs {
		if !matches(s.query, lg) {
			continue
		}
		if send(s.ch, lg) {
			delivered = true
		}
	}
	return delivered
}

// EmitRaw delivers lg to the first subscription on the current connection without filtering.
func (n *Node) EmitRaw(lg types.Log) bool {
	c := n.current()
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return false
	}
	return send(c.subs[0].ch, lg)
}

func (n *Node) current() *conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.conns) == 0 {
		return nil
	}
	return n.conns[len(n.conns)-1]
}

func send(ch chan<- types.Log, lg types.Log) bool {
	select {
	case ch <- lg:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func matches(q ethereum.FilterQuery, lg types.Log) bool {
	if len(q.Addresses) > 0 && !containsAddr(q.Addresses, lg.Address) {
		return false
	}
	for i, want := range q.Topics {
		if len(want) == 0 {
			continue
		}
		if i >= len(lg.Topics) || !containsHash(want, lg.Topics[i]) {
			return false
		}
	}
	return true
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

// LogSpec describes a subscription event to encode as a raw log.
type LogSpec struct {
	Variant        chain.Variant
	Consumer       common.Address
	Provider       common.Address
	SubscriptionID *big.Int
	Ref            [32]byte
	PlanID         uint32
	PrevPlanID     uint32
	DiscountID     [32]byte
	CancelAt       uint32
	BlockNumber    uint64
	BlockHash      common.Hash
	TxHash         common.Hash
	Index          uint
	Removed        bool
}

var (
	abiOnce   sync.Once
	parsedABI *abi.ABI
)

func contractABI() *abi.ABI {
	abiOnce.Do(func() {
		a, err := chain.LoadABI("")
		if err != nil {
			panic(err)
		}
		parsedABI = a
	})
	return parsedABI
}

// Decoder returns a decoder over the embedded ABI.
func Decoder() *chain.Decoder {
	d, err := chain.NewDecoder(contractABI())
	if err != nil {
		panic(err)
	}
	return d
}

// Log ABI-encodes spec into a log emitted by Contract.
func Log(spec LogSpec) types.Log {
	ev, ok := contractABI().Events[spec.Variant.Event]
	if !ok {
		panic("chaintest: unknown event " + spec.Variant.Event)
	}
	id := spec.SubscriptionID
	if id == nil {
		id = big.NewInt(1)
	}

	nonIndexed := ev.Inputs.NonIndexed()
	values := make([]any, 0, len(nonIndexed))
	for _, arg := range nonIndexed {
		switch arg.Name {
		case "ref":
			values = append(values, spec.Ref)
		case "planId":
			values = append(values, spec.PlanID)
		case "prevPlanId":
			values = append(values, spec.PrevPlanID)
		case "discountId":
			values = append(values, spec.DiscountID)
		case "cancelAt":
			values = append(values, spec.CancelAt)
		default:
			panic("chaintest: unhandled argument " + arg.Name)
		}
	}
	data, err := nonIndexed.Pack(values...)
	if err != nil {
		panic(err)
	}

	return types.Log{
		Address: Contract,
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(spec.Consumer.Bytes()),
			common.BytesToHash(spec.Provider.Bytes()),
			common.BigToHash(id),
		},
		Data:        data,
		BlockNumber: spec.BlockNumber,
		BlockHash:   spec.BlockHash,
		TxHash:      spec.TxHash,
		Index:       spec.Index,
		Removed:     spec.Removed,
	}
}
