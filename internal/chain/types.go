package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrDecode marks a log that could not be decoded into a subscription event.
	ErrDecode = errors.New("decode event")
	// ErrConnectionLost signals the log stream closed without being asked to.
	ErrConnectionLost = errors.New("connection lost")
	// ErrReconnectExhausted is returned once the reconnect policy runs out of attempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrEmptyFilter rejects a subscription with no providers; an empty topic filter matches everyone.
	ErrEmptyFilter = errors.New("provider filter is empty")
)

// Context is the block and transaction a log was observed in.
type Context struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
	ChainID     uint64
}

// Event is one decoded subscription lifecycle event. Which of the variant-specific
// fields are meaningful is given by Variant.Fields.
type Event struct {
	Variant        Variant
	Consumer       common.Address
	Provider       common.Address
	SubscriptionID *big.Int
	Ref            [32]byte
	PlanID         uint32
	PrevPlanID     uint32
	DiscountID     [32]byte
	CancelAt       uint32
	Context        Context
}

// Name is the on-chain event name, e.g. SubscriptionCreated.
func (e Event) Name() string {
	return e.Variant.Event
}
