package indexer

import (
	"context"

	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/model"
)

// bootstrapWellKnownAccounts imports the emulator's well-known accounts,
// which exist from genesis and never emit creation events. The import is
// retried on every tick until the service account has been seen with its
// keys, so accounts that come up after the chain does are still picked up.
func (i *Indexer) bootstrapWellKnownAccounts(ctx context.Context) {
	i.mu.Lock()
	done := i.bootstrapped
	i.mu.Unlock()
	if done {
		return
	}
	if i.serviceAccountProcessed() {
		i.mu.Lock()
		i.bootstrapped = true
		i.mu.Unlock()
		return
	}
	for _, addr := range i.Chain.WellKnownAddresses() {
		if err := i.reconcileAccount(ctx, addr, model.ZeroBlockID); err != nil {
			// Expected until the chain is reachable and the account exists.
			log.Debugf("Failed to import well-known account %s: %s", addr, err)
		}
	}
}

func (i *Indexer) serviceAccountProcessed() bool {
	for _, addr := range i.Chain.ServiceAddresses() {
		keys, err := i.Store.KeysByAccount(addr)
		if err != nil {
			return false
		}
		for _, key := range keys {
			if key.PublicKey != "" {
				return true
			}
		}
	}
	return false
}
