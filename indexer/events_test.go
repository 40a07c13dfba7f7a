package indexer

import (
	"context"
	"testing"

	"github.com/onflow/flowdex/model"
)

func TestClassify(t *testing.T) {
	idx := testIndexer(t, &mockGateway{})
	tests := []struct {
		eventType string
		want      eventKind
	}{
		{"flow.AccountCreated", eventAccountCreated},
		{"flow.AccountKeyAdded", eventKeyAdded},
		{"flow.AccountKeyRemoved", eventKeyRemoved},
		{"flow.AccountContractAdded", eventContractChanged},
		{"flow.AccountContractUpdated", eventContractChanged},
		{"flow.AccountContractRemoved", eventContractChanged},
		{"A.0ae53cb6e3f42a79.FlowToken.TokensDeposited", eventTokensDeposited},
		{"A.0AE53CB6E3F42A79.FlowToken.TokensWithdrawn", eventTokensWithdrawn},
		{"A.0ae53cb6e3f42a79.FUSD.TokensDeposited", eventOther},
		{"A.0ae53c.FlowToken.TokensDeposited", eventOther},
		{"A.0ae53cb6e3f42a79.FlowToken.TokensMinted", eventOther},
		{"flow.AccountKeyAdded2", eventOther},
	}
	for _, tt := range tests {
		got := idx.classify(&model.Event{Type: tt.eventType})
		if got != tt.want {
			t.Errorf("classify(%q) = %d, want %d", tt.eventType, got, tt.want)
		}
	}
}

func TestClassifyWithTokenAddressOverride(t *testing.T) {
	idx := testIndexer(t, &mockGateway{})
	idx.Chain.FlowTokenAddress = "0ae53cb6e3f42a79"
	tests := []struct {
		eventType string
		want      eventKind
	}{
		{"A.0ae53cb6e3f42a79.FlowToken.TokensDeposited", eventTokensDeposited},
		{"A.0ae53cb6e3f42a79.FlowToken.TokensWithdrawn", eventTokensWithdrawn},
		{"A.0000000000000003.FlowToken.TokensDeposited", eventOther},
	}
	for _, tt := range tests {
		got := idx.classify(&model.Event{Type: tt.eventType})
		if got != tt.want {
			t.Errorf("classify(%q) = %d, want %d", tt.eventType, got, tt.want)
		}
	}
}

func TestTokenTransferWithoutCounterparty(t *testing.T) {
	gateway, _ := testGateway(t)
	idx := testIndexer(t, gateway)
	idx.init()
	event := &model.Event{
		Type:    "A.0000000000000003.FlowToken.TokensWithdrawn",
		BlockID: model.ZeroBlockID,
		Data:    map[string]interface{}{"amount": "10.00000000", "from": nil},
	}
	if err := idx.onTokenTransfer(context.Background(), event, "from"); err != nil {
		t.Fatalf("Got error for a transfer without a counterparty: %s", err)
	}
	if got := gateway.accountFetches(serviceAddr); got != 0 {
		t.Fatalf("Got %d account fetches for a burn event, want 0", got)
	}
}

func TestReconcileAccountRemovesStaleRows(t *testing.T) {
	gateway, _ := testGateway(t)
	idx := testIndexer(t, gateway)
	idx.init()
	ctx := context.Background()
	stale := &model.Contract{
		ID:             model.ContractID(serviceAddr, "OldContract"),
		AccountAddress: serviceAddr,
		Name:           "OldContract",
		Code:           "access(all) contract OldContract {}",
	}
	if err := idx.Store.CreateContract(stale); err != nil {
		t.Fatalf("Failed to seed the stale contract: %s", err)
	}
	staleKey := &model.AccountKey{
		ID:             model.AccountKeyID(serviceAddr, "deadbeef"),
		AccountAddress: serviceAddr,
		PublicKey:      "deadbeef",
	}
	if err := idx.Store.CreateAccountKey(staleKey); err != nil {
		t.Fatalf("Failed to seed the stale key: %s", err)
	}
	if err := idx.reconcileAccount(ctx, serviceAddr, model.ZeroBlockID); err != nil {
		t.Fatalf("Failed to reconcile the account: %s", err)
	}
	contracts, err := idx.Store.ContractsByAccount(serviceAddr)
	if err != nil {
		t.Fatalf("Failed to list contracts: %s", err)
	}
	if len(contracts) != 1 || contracts[0].Name != "FlowServiceAccount" {
		t.Fatalf("Got contracts %v, want only FlowServiceAccount", contracts)
	}
	keys, err := idx.Store.KeysByAccount(serviceAddr)
	if err != nil {
		t.Fatalf("Failed to list keys: %s", err)
	}
	if len(keys) != 1 || keys[0].PublicKey == "deadbeef" {
		t.Fatalf("Got keys %v, want only the on-chain key", keys)
	}
}

func TestOnKeyRemovedMissingKey(t *testing.T) {
	gateway, _ := testGateway(t)
	idx := testIndexer(t, gateway)
	idx.init()
	event := &model.Event{
		Type:    "flow.AccountKeyRemoved",
		BlockID: model.ZeroBlockID,
		Data: map[string]interface{}{
			"address":   userAddr,
			"publicKey": []interface{}{uint8(1), uint8(2), uint8(3)},
		},
	}
	if err := idx.onKeyRemoved(context.Background(), event); err != nil {
		t.Fatalf("Got error removing an unknown key: %s", err)
	}
}
