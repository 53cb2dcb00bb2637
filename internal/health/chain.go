package health

import (
	"context"
	"fmt"

	"github.com/devblac/cask-bridge/internal/chain"
)

// StateSource reports the state of the live chain subscription.
type StateSource interface {
	State() chain.State
}

// SubscriptionChecker fails while the chain subscription is not open.
type SubscriptionChecker struct {
	src StateSource
}

// NewSubscriptionChecker wraps a subscription state source.
func NewSubscriptionChecker(src StateSource) *SubscriptionChecker {
	return &SubscriptionChecker{src: src}
}

// Ping returns an error unless the subscription is open.
func (c *SubscriptionChecker) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st := c.src.State(); st != chain.StateOpen {
		return fmt.Errorf("chain subscription %s", st)
	}
	return nil
}
