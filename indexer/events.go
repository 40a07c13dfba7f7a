package indexer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/diff"
	"github.com/onflow/flowdex/indexdb"
	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/model"
	"github.com/onflow/flow/protobuf/go/flow/entities"
)

type eventKind int

const (
	eventOther eventKind = iota
	eventAccountCreated
	eventContractChanged
	eventKeyAdded
	eventKeyRemoved
	eventTokensDeposited
	eventTokensWithdrawn
)

var (
	tokensDepositedPattern = regexp.MustCompile(`\AA\.[0-9a-fA-F]{16}\.FlowToken\.TokensDeposited\z`)
	tokensWithdrawnPattern = regexp.MustCompile(`\AA\.[0-9a-fA-F]{16}\.FlowToken\.TokensWithdrawn\z`)
)

// processEvents reconciles derived account state from the events of a single
// block. Account creations are handled first so that later events in the same
// block always refer to accounts the store already knows about. Handler
// failures are logged and skipped: the account they affect is re-derived the
// next time one of its events is seen.
func (i *Indexer) processEvents(ctx context.Context, data *indexdb.BlockData) {
	group := i.pool.NewGroup()
	for _, event := range data.Events {
		if i.classify(event) != eventAccountCreated {
			continue
		}
		event := event
		group.Submit(func() {
			if err := i.onAccountCreated(ctx, event); err != nil {
				log.Errorf("Failed to process %s event %s: %s", event.Type, event.ID, err)
			}
		})
	}
	group.Wait()
	for _, event := range data.Events {
		var err error
		switch i.classify(event) {
		case eventAccountCreated:
			continue
		case eventContractChanged:
			err = i.onContractChanged(ctx, event)
		case eventKeyAdded:
			err = i.onKeyAdded(ctx, event)
		case eventKeyRemoved:
			err = i.onKeyRemoved(ctx, event)
		case eventTokensDeposited:
			err = i.onTokenTransfer(ctx, event, "to")
		case eventTokensWithdrawn:
			err = i.onTokenTransfer(ctx, event, "from")
		default:
			continue
		}
		if err != nil {
			log.Errorf("Failed to process %s event %s: %s", event.Type, event.ID, err)
		}
	}
}

func (i *Indexer) classify(event *model.Event) eventKind {
	switch event.Type {
	case "flow.AccountCreated":
		return eventAccountCreated
	case "flow.AccountContractAdded", "flow.AccountContractUpdated", "flow.AccountContractRemoved":
		return eventContractChanged
	case "flow.AccountKeyAdded":
		return eventKeyAdded
	case "flow.AccountKeyRemoved":
		return eventKeyRemoved
	}
	if addr := i.Chain.FlowTokenAddress; addr != "" {
		switch event.Type {
		case fmt.Sprintf("A.%s.FlowToken.TokensDeposited", addr):
			return eventTokensDeposited
		case fmt.Sprintf("A.%s.FlowToken.TokensWithdrawn", addr):
			return eventTokensWithdrawn
		}
		return eventOther
	}
	if tokensDepositedPattern.MatchString(event.Type) {
		return eventTokensDeposited
	}
	if tokensWithdrawnPattern.MatchString(event.Type) {
		return eventTokensWithdrawn
	}
	return eventOther
}

func (i *Indexer) onAccountCreated(ctx context.Context, event *model.Event) error {
	addr, err := model.PayloadAddress(event.Data, "address")
	if err != nil {
		return err
	}
	return i.reconcileAccount(ctx, addr, event.BlockID)
}

func (i *Indexer) onContractChanged(ctx context.Context, event *model.Event) error {
	addr, err := model.PayloadAddress(event.Data, "address")
	if err != nil {
		return err
	}
	return i.reconcileAccount(ctx, addr, event.BlockID)
}

// onKeyAdded looks up the freshly added key on chain and stores it. The key
// index is not part of the event payload, so the key is matched by its public
// key against the fetched account.
func (i *Indexer) onKeyAdded(ctx context.Context, event *model.Event) error {
	addr, err := model.PayloadAddress(event.Data, "address")
	if err != nil {
		return err
	}
	pub, err := model.PayloadPublicKey(event.Data)
	if err != nil {
		return err
	}
	acct, err := i.fetchAccount(ctx, addr)
	if err != nil {
		return err
	}
	_, keys, _ := convertAccount(i.Chain, acct, event.BlockID)
	for _, key := range keys {
		if key.PublicKey == pub {
			return i.Store.UpsertAccountKey(key)
		}
	}
	return fmt.Errorf("indexer: account %s has no key with public key %s", addr, pub)
}

func (i *Indexer) onKeyRemoved(ctx context.Context, event *model.Event) error {
	addr, err := model.PayloadAddress(event.Data, "address")
	if err != nil {
		return err
	}
	pub, err := model.PayloadPublicKey(event.Data)
	if err != nil {
		return err
	}
	err = i.Store.DeleteAccountKey(model.AccountKeyID(addr, pub))
	if err == indexdb.ErrNotFound {
		return nil
	}
	return err
}

// onTokenTransfer refreshes the balance of the transfer counterparty named by
// field. Minting and burning emit the same events with a nil counterparty,
// which is ignored.
func (i *Indexer) onTokenTransfer(ctx context.Context, event *model.Event, field string) error {
	addr, ok := model.PayloadOptionalAddress(event.Data, field)
	if !ok {
		return nil
	}
	return i.refreshBalance(ctx, addr, event.BlockID)
}

func (i *Indexer) refreshBalance(ctx context.Context, addr string, blockID string) error {
	acct, err := i.fetchAccount(ctx, addr)
	if err != nil {
		return err
	}
	account, _, _ := convertAccount(i.Chain, acct, blockID)
	return i.Store.UpsertAccount(account)
}

func (i *Indexer) fetchAccount(ctx context.Context, addr string) (*entities.Account, error) {
	raw, err := access.FromHex(addr)
	if err != nil {
		return nil, fmt.Errorf("indexer: invalid account address %q: %s", addr, err)
	}
	acct, err := i.Client.Account(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("indexer: failed to fetch account %s: %s", addr, err)
	}
	return acct, nil
}

// reconcileAccount fetches an account from the chain and brings the stored
// account, its keys, and its contracts in line with it.
func (i *Indexer) reconcileAccount(ctx context.Context, addr string, blockID string) error {
	acct, err := i.fetchAccount(ctx, addr)
	if err != nil {
		return err
	}
	account, keys, contracts := convertAccount(i.Chain, acct, blockID)
	if err := i.Store.UpsertAccount(account); err != nil {
		return err
	}
	oldKeys, err := i.Store.KeysByAccount(addr)
	if err != nil {
		return err
	}
	keyDiff, err := diff.Compute([]string{"ID"}, oldKeys, keys, true)
	if err != nil {
		return err
	}
	err = diff.Apply(ctx, i.applyPool, keyDiff, diff.Ops[*model.AccountKey]{
		Create: func(ctx context.Context, key *model.AccountKey) error {
			err := i.Store.CreateAccountKey(key)
			if err == indexdb.ErrAlreadyExists {
				return i.Store.UpsertAccountKey(key)
			}
			return err
		},
		Update: func(ctx context.Context, key *model.AccountKey) error {
			return i.Store.UpsertAccountKey(key)
		},
		Delete: func(ctx context.Context, key *model.AccountKey) error {
			return i.Store.DeleteAccountKey(key.ID)
		},
	})
	if err != nil {
		return err
	}
	oldContracts, err := i.Store.ContractsByAccount(addr)
	if err != nil {
		return err
	}
	contractDiff, err := diff.Compute([]string{"ID"}, oldContracts, contracts, true)
	if err != nil {
		return err
	}
	return diff.Apply(ctx, i.applyPool, contractDiff, diff.Ops[*model.Contract]{
		Create: func(ctx context.Context, contract *model.Contract) error {
			err := i.Store.CreateContract(contract)
			if err == indexdb.ErrAlreadyExists {
				return i.Store.UpsertContract(contract)
			}
			return err
		},
		Update: func(ctx context.Context, contract *model.Contract) error {
			return i.Store.UpsertContract(contract)
		},
		Delete: func(ctx context.Context, contract *model.Contract) error {
			return i.Store.DeleteContract(contract.ID)
		},
	})
}
