package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type decodeEntry struct {
	variant    Variant
	indexed    abi.Arguments
	nonIndexed abi.Arguments
}

// Decoder turns raw contract logs into Events, keyed by topic0.
type Decoder struct {
	byTopic   map[common.Hash]decodeEntry
	byVariant map[string]common.Hash
}

// NewDecoder builds a decoder for every variant. The ABI must declare all of them.
func NewDecoder(contractABI *abi.ABI) (*Decoder, error) {
	d := &Decoder{
		byTopic:   make(map[common.Hash]decodeEntry, len(Variants)),
		byVariant: make(map[string]common.Hash, len(Variants)),
	}
	for _, v := range Variants {
		ev, ok := contractABI.Events[v.Event]
		if !ok {
			return nil, fmt.Errorf("abi has no event %s", v.Event)
		}
		indexed, nonIndexed := splitIndexed(ev.Inputs)
		d.byTopic[ev.ID] = decodeEntry{variant: v, indexed: indexed, nonIndexed: nonIndexed}
		d.byVariant[v.Event] = ev.ID
	}
	return d, nil
}

// Topic returns the event signature hash for a variant.
func (d *Decoder) Topic(v Variant) common.Hash {
	return d.byVariant[v.Event]
}

// Decode unpacks a log. Every failure wraps ErrDecode.
func (d *Decoder) Decode(lg types.Log, chainID uint64) (Event, error) {
	if len(lg.Topics) == 0 {
		return Event{}, fmt.Errorf("%w: log has no topics", ErrDecode)
	}
	entry, ok := d.byTopic[lg.Topics[0]]
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown topic %s", ErrDecode, lg.Topics[0].Hex())
	}

	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, entry.indexed, lg.Topics[1:]); err != nil {
		return Event{}, fmt.Errorf("%w: %s topics: %v", ErrDecode, entry.variant.Event, err)
	}
	if err := entry.nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return Event{}, fmt.Errorf("%w: %s data: %v", ErrDecode, entry.variant.Event, err)
	}

	ev := Event{
		Variant: entry.variant,
		Context: Context{
			BlockNumber: lg.BlockNumber,
			BlockHash:   lg.BlockHash,
			TxHash:      lg.TxHash,
			LogIndex:    lg.Index,
			ChainID:     chainID,
		},
	}
	a := argReader{event: entry.variant.Event, args: args}
	ev.Consumer = a.address("consumer")
	ev.Provider = a.address("provider")
	ev.SubscriptionID = a.bigInt("subscriptionId")
	ev.Ref = a.bytes32("ref")
	for _, f := range entry.variant.Fields {
		switch f {
		case FieldPlanID:
			ev.PlanID = a.uint32(string(f))
		case FieldPrevPlanID:
			ev.PrevPlanID = a.uint32(string(f))
		case FieldDiscountID:
			ev.DiscountID = a.bytes32(string(f))
		case FieldCancelAt:
			ev.CancelAt = a.uint32(string(f))
		}
	}
	if a.err != nil {
		return Event{}, a.err
	}
	return ev, nil
}

// argReader pulls typed values out of an unpacked argument map, keeping the first error.
type argReader struct {
	event string
	args  map[string]any
	err   error
}

func (r *argReader) value(name string) any {
	v, ok := r.args[name]
	if !ok && r.err == nil {
		r.err = fmt.Errorf("%w: %s missing %s", ErrDecode, r.event, name)
	}
	return v
}

func (r *argReader) mismatch(name string, v any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s field %s has type %T", ErrDecode, r.event, name, v)
	}
}

func (r *argReader) address(name string) common.Address {
	v := r.value(name)
	addr, ok := v.(common.Address)
	if !ok && v != nil {
		r.mismatch(name, v)
	}
	return addr
}

func (r *argReader) bigInt(name string) *big.Int {
	v := r.value(name)
	n, ok := v.(*big.Int)
	if !ok {
		if v != nil {
			r.mismatch(name, v)
		}
		return new(big.Int)
	}
	return n
}

func (r *argReader) bytes32(name string) [32]byte {
	v := r.value(name)
	b, ok := v.([32]byte)
	if !ok && v != nil {
		r.mismatch(name, v)
	}
	return b
}

func (r *argReader) uint32(name string) uint32 {
	v := r.value(name)
	n, ok := v.(uint32)
	if !ok && v != nil {
		r.mismatch(name, v)
	}
	return n
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
