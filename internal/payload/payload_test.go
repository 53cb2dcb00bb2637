package payload

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commonArgs = []string{"consumer", "provider", "subscriptionId", "ref"}

func sampleEvent(v chain.Variant) chain.Event {
	id, _ := new(big.Int).SetString("18446744073709551617", 10) // 2^64 + 1
	return chain.Event{
		Variant:        v,
		Consumer:       common.HexToAddress("0x0000000000000000000000000000000000000c01"),
		Provider:       common.HexToAddress("0x0000000000000000000000000000000000000aaa"),
		SubscriptionID: id,
		Ref:            [32]byte{0x0f},
		PlanID:         12,
		PrevPlanID:     11,
		DiscountID:     [32]byte{0xd1},
		CancelAt:       1700000000,
		Context: chain.Context{
			BlockNumber: 31337,
			BlockHash:   common.HexToHash("0xb10c"),
			TxHash:      common.HexToHash("0x7a"),
			ChainID:     137,
		},
	}
}

func TestNormalizeArgsMatchVariantTable(t *testing.T) {
	want := map[string][]string{
		"SubscriptionCreated":           {"planId", "discountId"},
		"SubscriptionChangedPlan":       {"prevPlanId", "planId", "discountId"},
		"SubscriptionPendingChangePlan": {"prevPlanId", "planId"},
		"SubscriptionChangedDiscount":   {"planId", "discountId"},
		"SubscriptionPaused":            {"planId"},
		"SubscriptionResumed":           {"planId"},
		"SubscriptionPendingCancel":     {"planId", "cancelAt"},
		"SubscriptionCanceled":          {"planId"},
		"SubscriptionRenewed":           {"planId"},
		"SubscriptionTrialEnded":        {"planId"},
		"SubscriptionPastDue":           {"planId"},
	}
	require.Len(t, chain.Variants, len(want))

	for _, v := range chain.Variants {
		t.Run(v.Event, func(t *testing.T) {
			wh := Normalize(sampleEvent(v))
			assert.Equal(t, v.Event, wh.Event)
			assert.Equal(t, append(append([]string{}, commonArgs...), want[v.Event]...), wh.Args.Names())

			id, ok := wh.Args.Get("subscriptionId")
			require.True(t, ok)
			s, isString := id.(string)
			require.True(t, isString, "subscriptionId must be a string")
			assert.Len(t, s, 66)
			assert.True(t, strings.HasPrefix(s, "0x"))
		})
	}
}

func TestNormalizeWireShape(t *testing.T) {
	wh := Normalize(sampleEvent(chain.PendingCancel))
	body, err := json.Marshal(wh)
	require.NoError(t, err)

	var decoded struct {
		Event string         `json:"event"`
		Args  map[string]any `json:"args"`
		Block struct {
			Number uint64 `json:"number"`
			Hash   string `json:"hash"`
		} `json:"block"`
		TransactionHash string `json:"transactionHash"`
		ChainID         uint64 `json:"chainId"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "SubscriptionPendingCancel", decoded.Event)
	assert.Equal(t, uint64(31337), decoded.Block.Number)
	assert.Equal(t, common.HexToHash("0xb10c").Hex(), decoded.Block.Hash)
	assert.Equal(t, common.HexToHash("0x7a").Hex(), decoded.TransactionHash)
	assert.Equal(t, uint64(137), decoded.ChainID)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000010000000000000001", decoded.Args["subscriptionId"])
	assert.Equal(t, common.HexToAddress("0xaaa").Hex(), decoded.Args["provider"])
	assert.Equal(t, "1700000000", decoded.Args["cancelAt"])
	assert.Equal(t, "12", decoded.Args["planId"])
}

func TestNormalizeIsDeterministic(t *testing.T) {
	ev := sampleEvent(chain.ChangedPlan)
	a, err := json.Marshal(Normalize(ev))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		b, err := json.Marshal(Normalize(ev))
		require.NoError(t, err)
		require.Equal(t, string(a), string(b))
	}
	assert.Contains(t, string(a), `"args":{"consumer":`)
	assert.Less(t, strings.Index(string(a), `"prevPlanId"`), strings.Index(string(a), `"planId"`))
}

func TestUintFieldsEncodeAsDecimalStrings(t *testing.T) {
	raw, err := json.Marshal(Normalize(sampleEvent(chain.ChangedPlan)))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"prevPlanId":"11","planId":"12"`)

	raw, err = json.Marshal(Normalize(sampleEvent(chain.PendingCancel)))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cancelAt":"1700000000"`)
}

func TestNormalizePanicsWithoutSubscriptionID(t *testing.T) {
	ev := sampleEvent(chain.Paused)
	ev.SubscriptionID = nil
	assert.Panics(t, func() { Normalize(ev) })
}

func TestSubscriptionIDIsFixedWidth(t *testing.T) {
	assert.Equal(t, "0x"+strings.Repeat("0", 63)+"1", SubscriptionID(big.NewInt(1)))
	top := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, "0x"+strings.Repeat("f", 64), SubscriptionID(top))
}
