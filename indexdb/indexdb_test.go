package indexdb

import (
	"testing"
	"time"

	"github.com/onflow/flowdex/model"
)

func blockData(id string, height uint64) *BlockData {
	return &BlockData{
		Block: &model.Block{
			ID:       id,
			ParentID: "parent-" + id,
			Height:   height,
		},
		Transactions: []*model.Transaction{{
			ID:      "txn-" + id,
			BlockID: id,
			Status: model.TransactionStatus{
				ExecutionStatus: "PENDING",
			},
		}},
		Events: []*model.Event{{
			ID:            model.EventID("txn-"+id, 0),
			TransactionID: "txn-" + id,
			BlockID:       id,
			Type:          "flow.AccountCreated",
		}},
	}
}

func TestIndexBlockData(t *testing.T) {
	store := NewInMemory()
	if _, err := store.LatestBlock(); err != ErrNotFound {
		t.Fatalf("got %v from LatestBlock on an empty store, want ErrNotFound", err)
	}
	if err := store.IndexBlockData(blockData("b1", 7)); err != nil {
		t.Fatalf("IndexBlockData failed: %s", err)
	}
	latest, err := store.LatestBlock()
	if err != nil {
		t.Fatalf("LatestBlock failed: %s", err)
	}
	if latest.Height != 7 {
		t.Fatalf("got latest height %d, want 7", latest.Height)
	}
	block, err := store.BlockByHeight(7)
	if err != nil {
		t.Fatalf("BlockByHeight failed: %s", err)
	}
	if block.ID != "b1" {
		t.Fatalf("got block %q at height 7, want b1", block.ID)
	}
	txn, err := store.TransactionByID("txn-b1")
	if err != nil {
		t.Fatalf("TransactionByID failed: %s", err)
	}
	if txn.CreatedAt.IsZero() || txn.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set on the indexed transaction")
	}
	events, err := store.EventsByTransaction("txn-b1")
	if err != nil {
		t.Fatalf("EventsByTransaction failed: %s", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestIndexBlockDataRetry(t *testing.T) {
	store := NewInMemory()
	if err := store.IndexBlockData(blockData("b1", 1)); err != nil {
		t.Fatalf("IndexBlockData failed: %s", err)
	}
	// A retried height must not fail or duplicate rows.
	if err := store.IndexBlockData(blockData("b1", 1)); err != nil {
		t.Fatalf("IndexBlockData retry failed: %s", err)
	}
	txns, err := store.Transactions()
	if err != nil {
		t.Fatalf("Transactions failed: %s", err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions after retry, want 1", len(txns))
	}
	events, err := store.Events()
	if err != nil {
		t.Fatalf("Events failed: %s", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after retry, want 1", len(events))
	}
}

func TestUpsertAccountPreservesCreatedAt(t *testing.T) {
	store := NewInMemory()
	if err := store.UpsertAccount(&model.Account{Address: "0x1", Balance: 10}); err != nil {
		t.Fatalf("UpsertAccount failed: %s", err)
	}
	first, err := store.AccountByAddress("0x1")
	if err != nil {
		t.Fatalf("AccountByAddress failed: %s", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := store.UpsertAccount(&model.Account{Address: "0x1", Balance: 20}); err != nil {
		t.Fatalf("UpsertAccount failed: %s", err)
	}
	second, err := store.AccountByAddress("0x1")
	if err != nil {
		t.Fatalf("AccountByAddress failed: %s", err)
	}
	if second.Balance != 20 {
		t.Fatalf("got balance %d, want 20", second.Balance)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("got createdAt %s after upsert, want %s", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance on upsert")
	}
}

func TestUpsertAccountKeyPreservesPrivateKey(t *testing.T) {
	store := NewInMemory()
	id := model.AccountKeyID("0x1", "abcd")
	err := store.CreateAccountKey(&model.AccountKey{
		ID:             id,
		AccountAddress: "0x1",
		PublicKey:      "abcd",
		PrivateKey:     "secret",
	})
	if err != nil {
		t.Fatalf("CreateAccountKey failed: %s", err)
	}
	err = store.UpsertAccountKey(&model.AccountKey{
		ID:             id,
		AccountAddress: "0x1",
		PublicKey:      "abcd",
		Weight:         1000,
	})
	if err != nil {
		t.Fatalf("UpsertAccountKey failed: %s", err)
	}
	keys, err := store.KeysByAccount("0x1")
	if err != nil {
		t.Fatalf("KeysByAccount failed: %s", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(keys))
	}
	if keys[0].PrivateKey != "secret" {
		t.Fatalf("got private key %q after upsert, want it preserved", keys[0].PrivateKey)
	}
	if keys[0].Weight != 1000 {
		t.Fatalf("got weight %d after upsert, want 1000", keys[0].Weight)
	}
}

func TestCreateContractTwice(t *testing.T) {
	store := NewInMemory()
	contract := &model.Contract{
		ID:             model.ContractID("0x1", "Greeter"),
		AccountAddress: "0x1",
		Name:           "Greeter",
	}
	if err := store.CreateContract(contract); err != nil {
		t.Fatalf("CreateContract failed: %s", err)
	}
	if err := store.CreateContract(contract); err != ErrAlreadyExists {
		t.Fatalf("got %v from duplicate CreateContract, want ErrAlreadyExists", err)
	}
	if err := store.DeleteContract(contract.ID); err != nil {
		t.Fatalf("DeleteContract failed: %s", err)
	}
	if err := store.DeleteContract(contract.ID); err != ErrNotFound {
		t.Fatalf("got %v from deleting a missing contract, want ErrNotFound", err)
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	store := NewInMemory()
	if err := store.IndexBlockData(blockData("b1", 1)); err != nil {
		t.Fatalf("IndexBlockData failed: %s", err)
	}
	status := model.TransactionStatus{
		ExecutionStatus: "SEALED",
		GrpcStatusCode:  1,
		ErrorMessage:    "cadence runtime error",
	}
	if err := store.UpdateTransactionStatus("txn-b1", status); err != nil {
		t.Fatalf("UpdateTransactionStatus failed: %s", err)
	}
	txn, err := store.TransactionByID("txn-b1")
	if err != nil {
		t.Fatalf("TransactionByID failed: %s", err)
	}
	if txn.Status != status {
		t.Fatalf("got status %v, want %v", txn.Status, status)
	}
	if err := store.UpdateTransactionStatus("missing", status); err != ErrNotFound {
		t.Fatalf("got %v for a missing transaction, want ErrNotFound", err)
	}
}

func TestReplaceAccountStorage(t *testing.T) {
	store := NewInMemory()
	initial := []*model.AccountStorageItem{
		{
			ID:             model.StorageItemID("0x1", "/storage/flowTokenVault"),
			AccountAddress: "0x1",
			Path:           "/storage/flowTokenVault",
			Domain:         "storage",
			Type:           "Capability",
		},
		{
			ID:             model.StorageItemID("0x1", "/public/greeting"),
			AccountAddress: "0x1",
			Path:           "/public/greeting",
			Domain:         "public",
		},
	}
	if err := store.ReplaceAccountStorage("0x1", initial); err != nil {
		t.Fatalf("ReplaceAccountStorage failed: %s", err)
	}
	replacement := []*model.AccountStorageItem{
		{
			ID:             model.StorageItemID("0x1", "/storage/flowTokenVault"),
			AccountAddress: "0x1",
			Path:           "/storage/flowTokenVault",
			Domain:         "storage",
			Type:           "Capability",
		},
	}
	if err := store.ReplaceAccountStorage("0x1", replacement); err != nil {
		t.Fatalf("ReplaceAccountStorage failed: %s", err)
	}
	items, err := store.StorageByAccount("0x1")
	if err != nil {
		t.Fatalf("StorageByAccount failed: %s", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d storage items after replace, want 1", len(items))
	}
	if items[0].Path != "/storage/flowTokenVault" {
		t.Fatalf("got unexpected surviving item %q", items[0].Path)
	}
}

func TestAccountAddresses(t *testing.T) {
	store := NewInMemory()
	for _, addr := range []string{"0x1", "0x2"} {
		if err := store.UpsertAccount(&model.Account{Address: addr}); err != nil {
			t.Fatalf("UpsertAccount failed: %s", err)
		}
	}
	addrs, err := store.AccountAddresses()
	if err != nil {
		t.Fatalf("AccountAddresses failed: %s", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}
}
