package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devblac/cask-bridge/internal/chain"
	"github.com/devblac/cask-bridge/internal/chain/chaintest"
	"github.com/devblac/cask-bridge/internal/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcher(node *chaintest.Node, maxReconnects uint64) *chain.Watcher {
	return chain.NewWatcher(node.Dial, chaintest.Decoder(), chain.Options{
		Contract:       chaintest.Contract,
		ChainID:        137,
		ReconnectDelay: 10 * time.Millisecond,
		MaxReconnects:  maxReconnects,
		Logger:         logging.Discard(),
	})
}

func nextEvent(t *testing.T, sub *chain.Subscription) chain.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return chain.Event{}
	}
}

func TestOpenInstallsOneFilteredListenerPerVariant(t *testing.T) {
	node := chaintest.NewNode()
	sub, err := newWatcher(node, 0).Open(context.Background(), []common.Address{provider})
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, chain.StateOpen, sub.State())
	queries := node.Queries(0)
	require.Len(t, queries, len(chain.Variants))

	d := chaintest.Decoder()
	for i, q := range queries {
		assert.Equal(t, []common.Address{chaintest.Contract}, q.Addresses)
		require.Len(t, q.Topics, 3)
		assert.Equal(t, []common.Hash{d.Topic(chain.Variants[i])}, q.Topics[0])
		assert.Empty(t, q.Topics[1])
		assert.Equal(t, []common.Hash{common.BytesToHash(provider.Bytes())}, q.Topics[2])
	}
}

func TestOpenRejectsEmptyFilter(t *testing.T) {
	_, err := newWatcher(chaintest.NewNode(), 0).Open(context.Background(), nil)
	assert.ErrorIs(t, err, chain.ErrEmptyFilter)
}

func TestOpenFailsWhenInitialDialFails(t *testing.T) {
	node := chaintest.NewNode()
	node.FailDials(1)
	_, err := newWatcher(node, 0).Open(context.Background(), []common.Address{provider})
	assert.ErrorIs(t, err, chaintest.ErrDialRefused)
}

func TestEventsAreDecodedAndDelivered(t *testing.T) {
	node := chaintest.NewNode()
	sub, err := newWatcher(node, 0).Open(context.Background(), []common.Address{provider})
	require.NoError(t, err)
	defer sub.Close()

	require.True(t, node.Emit(chaintest.Log(chaintest.LogSpec{
		Variant:  chain.Renewed,
		Consumer: consumer,
		Provider: provider,
		PlanID:   5,
	})))

	ev := nextEvent(t, sub)
	assert.Equal(t, chain.Renewed.Event, ev.Name())
	assert.Equal(t, uint32(5), ev.PlanID)
	assert.Equal(t, uint64(137), ev.Context.ChainID)
}

func TestUndecodableRemovedAndForeignLogsAreDropped(t *testing.T) {
	node := chaintest.NewNode()
	sub, err := newWatcher(node, 0).Open(context.Background(), []common.Address{provider})
	require.NoError(t, err)
	defer sub.Close()

	broken := chaintest.Log(chaintest.LogSpec{Variant: chain.Paused, Consumer: consumer, Provider: provider})
	broken.Data = nil
	require.True(t, node.EmitRaw(broken))

	removed := chaintest.Log(chaintest.LogSpec{Variant: chain.Paused, Consumer: consumer, Provider: provider, Removed: true})
	require.True(t, node.EmitRaw(removed))

	other := common.HexToAddress("0x0000000000000000000000000000000000000ddd")
	require.True(t, node.EmitRaw(chaintest.Log(chaintest.LogSpec{Variant: chain.Paused, Consumer: consumer, Provider: other})))

	require.True(t, node.Emit(chaintest.Log(chaintest.LogSpec{Variant: chain.Resumed, Consumer: consumer, Provider: provider})))

	ev := nextEvent(t, sub)
	assert.Equal(t, chain.Resumed.Event, ev.Name(), "only the well-formed, live, filtered event should surface")
	assert.Equal(t, chain.StateOpen, sub.State())
}

func TestReconnectReinstallsIdenticalFilter(t *testing.T) {
	node := chaintest.NewNode()
	providers := []common.Address{provider, common.HexToAddress("0x0000000000000000000000000000000000000bbb")}
	sub, err := newWatcher(node, 0).Open(context.Background(), providers)
	require.NoError(t, err)
	defer sub.Close()

	node.FailDials(2)
	node.Drop(errors.New("websocket: close 1006"))

	require.Eventually(t, func() bool {
		return node.Dials() == 2 && sub.State() == chain.StateOpen
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, node.Closed(0), "stale connection should be closed")
	assert.Equal(t, node.Queries(0), node.Queries(1))
	assert.Equal(t, providers, sub.Filter())

	require.True(t, node.Emit(chaintest.Log(chaintest.LogSpec{
		Variant:  chain.PendingCancel,
		Consumer: consumer,
		Provider: providers[1],
		PlanID:   2,
		CancelAt: 1700000000,
	})))
	ev := nextEvent(t, sub)
	assert.Equal(t, chain.PendingCancel.Event, ev.Name())
	assert.Equal(t, uint32(1700000000), ev.CancelAt)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	node := chaintest.NewNode()
	sub, err := newWatcher(node, 3).Open(context.Background(), []common.Address{provider})
	require.NoError(t, err)

	node.FailDials(10)
	node.Drop(nil)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop after exhausting reconnects")
	}
	assert.ErrorIs(t, sub.Err(), chain.ErrReconnectExhausted)
	assert.Equal(t, chain.StateClosed, sub.State())

	_, open := <-sub.Events()
	assert.False(t, open, "events channel should be closed")
	sub.Close()
}

func TestCloseStopsSubscription(t *testing.T) {
	node := chaintest.NewNode()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := newWatcher(node, 0).Open(ctx, []common.Address{provider})
	require.NoError(t, err)

	sub.Close()
	assert.Equal(t, chain.StateClosed, sub.State())
	assert.NoError(t, sub.Err())
	assert.True(t, node.Closed(0))
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "reconnecting", chain.StateReconnecting.String())
	assert.Equal(t, "open", chain.StateOpen.String())
}
