// Package payload renders decoded subscription events into the webhook wire format.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Webhook is the body POSTed to provider endpoints. Field names and nesting are the wire contract.
type Webhook struct {
	Event           string `json:"event"`
	Args            Args   `json:"args"`
	Block           Block  `json:"block"`
	TransactionHash string `json:"transactionHash"`
	ChainID         uint64 `json:"chainId"`
}

// Block locates the log that produced the event.
type Block struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

// Arg is one named event argument.
type Arg struct {
	Name  string
	Value any
}

// Args keeps event arguments in a fixed order so identical events encode to identical bytes.
type Args []Arg

// MarshalJSON encodes args as an object, preserving order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("arg %s: %w", arg.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value of a named argument.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Names lists argument names in encoding order.
func (a Args) Names() []string {
	out := make([]string, 0, len(a))
	for _, arg := range a {
		out = append(out, arg.Name)
	}
	return out
}

// Normalize converts a decoded event into its webhook payload. It is pure; an event without a
// subscription id is a caller bug and panics.
func Normalize(ev chain.Event) Webhook {
	if ev.SubscriptionID == nil {
		panic(fmt.Sprintf("payload: %s event has no subscription id", ev.Variant.Event))
	}

	args := make(Args, 0, 4+len(ev.Variant.Fields))
	args = append(args,
		Arg{Name: "consumer", Value: ev.Consumer.Hex()},
		Arg{Name: "provider", Value: ev.Provider.Hex()},
		Arg{Name: "subscriptionId", Value: SubscriptionID(ev.SubscriptionID)},
		Arg{Name: "ref", Value: hexutil.Encode(ev.Ref[:])},
	)
	for _, f := range ev.Variant.Fields {
		args = append(args, Arg{Name: string(f), Value: fieldValue(ev, f)})
	}

	return Webhook{
		Event: ev.Variant.Event,
		Args:  args,
		Block: Block{
			Number: ev.Context.BlockNumber,
			Hash:   ev.Context.BlockHash.Hex(),
		},
		TransactionHash: ev.Context.TxHash.Hex(),
		ChainID:         ev.Context.ChainID,
	}
}

// SubscriptionID renders an id as 0x plus 64 hex digits, so no consumer parses it as a float.
func SubscriptionID(id *big.Int) string {
	return fmt.Sprintf("0x%064x", id)
}

// decimal renders uint contract fields as base-10 strings, the form existing consumers parse.
func decimal(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func fieldValue(ev chain.Event, f chain.Field) any {
	switch f {
	case chain.FieldPlanID:
		return decimal(ev.PlanID)
	case chain.FieldPrevPlanID:
		return decimal(ev.PrevPlanID)
	case chain.FieldDiscountID:
		return hexutil.Encode(ev.DiscountID[:])
	case chain.FieldCancelAt:
		return decimal(ev.CancelAt)
	default:
		panic(fmt.Sprintf("payload: unknown field %q", f))
	}
}
