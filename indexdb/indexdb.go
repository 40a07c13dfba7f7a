// Package indexdb persists the indexed view of a Flow network.
package indexdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/model"
	"github.com/onflow/flowdex/process"
)

// Sentinel errors for row lookups and writes.
var (
	ErrAlreadyExists = errors.New("indexdb: row already exists")
	ErrNotFound      = errors.New("indexdb: row not found")
)

// NOTE: We store the indexed data within Badger using the following key/value
// structure, with values JSON-encoded:
//
//	a:<address>                   = model.Account
//	b:<block-id>                  = model.Block
//	c:<address>.<name>            = model.Contract
//	e:<txn-id>.<event-index>      = model.Event
//	h:<height-big-endian>         = <block-id>
//	k:<address>.<public-key>      = model.AccountKey
//	s:<address></domain/path>     = model.AccountStorageItem
//	t:<txn-id>                    = model.Transaction
const (
	prefixAccount     = "a:"
	prefixBlock       = "b:"
	prefixContract    = "c:"
	prefixEvent       = "e:"
	prefixHeight      = "h:"
	prefixKey         = "k:"
	prefixStorage     = "s:"
	prefixTransaction = "t:"
)

// BlockData aggregates the rows derived from a single sealed block. The whole
// set is written in one transaction.
type BlockData struct {
	Block        *model.Block
	Transactions []*model.Transaction
	Events       []*model.Event
}

// Store holds the indexed view of a Flow network.
type Store struct {
	db     *badger.DB
	latest *model.Block
	mu     sync.RWMutex // protects latest
}

// AccountAddresses returns the addresses of all indexed accounts.
func (s *Store) AccountAddresses() ([]string, error) {
	addrs := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixAccount)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			addrs = append(addrs, string(it.Item().Key()[len(prefixAccount):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexdb: failed to scan account addresses: %s", err)
	}
	return addrs, nil
}

// AccountByAddress returns the indexed account for the given address.
func (s *Store) AccountByAddress(addr string) (*model.Account, error) {
	acct := &model.Account{}
	if err := s.findOne(key(prefixAccount, addr), acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Accounts returns all indexed accounts.
func (s *Store) Accounts() ([]*model.Account, error) {
	accts := []*model.Account{}
	err := s.scan(prefixAccount, func(val []byte) error {
		acct := &model.Account{}
		if err := json.Unmarshal(val, acct); err != nil {
			return err
		}
		accts = append(accts, acct)
		return nil
	})
	return accts, err
}

// BlockByHeight returns the indexed block at the given height.
func (s *Store) BlockByHeight(height uint64) (*model.Block, error) {
	block := &model.Block{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(heightKey(height))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		var blockID string
		if err := item.Value(func(val []byte) error {
			blockID = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getRow(txn, key(prefixBlock, blockID), block)
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// BlockByID returns the indexed block with the given id.
func (s *Store) BlockByID(id string) (*model.Block, error) {
	block := &model.Block{}
	if err := s.findOne(key(prefixBlock, id), block); err != nil {
		return nil, err
	}
	return block, nil
}

// Blocks returns all indexed blocks.
func (s *Store) Blocks() ([]*model.Block, error) {
	blocks := []*model.Block{}
	err := s.scan(prefixBlock, func(val []byte) error {
		block := &model.Block{}
		if err := json.Unmarshal(val, block); err != nil {
			return err
		}
		blocks = append(blocks, block)
		return nil
	})
	return blocks, err
}

// ContractsByAccount returns the indexed contracts deployed to the given
// account.
func (s *Store) ContractsByAccount(addr string) ([]*model.Contract, error) {
	contracts := []*model.Contract{}
	err := s.scan(prefixContract+addr+".", func(val []byte) error {
		contract := &model.Contract{}
		if err := json.Unmarshal(val, contract); err != nil {
			return err
		}
		contracts = append(contracts, contract)
		return nil
	})
	return contracts, err
}

// CreateContract writes a new contract row, and fails with ErrAlreadyExists
// if one is already present.
func (s *Store) CreateContract(contract *model.Contract) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return createRow(txn, key(prefixContract, contract.ID), contract, &contract.Timestamps)
	})
}

// CreateAccountKey writes a new account key row, and fails with
// ErrAlreadyExists if one is already present.
func (s *Store) CreateAccountKey(acctKey *model.AccountKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return createRow(txn, key(prefixKey, acctKey.ID), acctKey, &acctKey.Timestamps)
	})
}

// DeleteAccountKey removes the account key row with the given id.
func (s *Store) DeleteAccountKey(id string) error {
	return s.deleteRow(key(prefixKey, id))
}

// DeleteContract removes the contract row with the given id.
func (s *Store) DeleteContract(id string) error {
	return s.deleteRow(key(prefixContract, id))
}

// EventsByTransaction returns the indexed events emitted by the given
// transaction.
func (s *Store) EventsByTransaction(txnID string) ([]*model.Event, error) {
	events := []*model.Event{}
	err := s.scan(prefixEvent+txnID+".", func(val []byte) error {
		event := &model.Event{}
		if err := json.Unmarshal(val, event); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	return events, err
}

// Events returns all indexed events.
func (s *Store) Events() ([]*model.Event, error) {
	events := []*model.Event{}
	err := s.scan(prefixEvent, func(val []byte) error {
		event := &model.Event{}
		if err := json.Unmarshal(val, event); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	return events, err
}

// IndexBlockData writes the block, its transactions and its events in a
// single transaction, and updates the latest block pointer. Re-indexing an
// already indexed block is a no-op, so a failed pipeline tick can safely be
// retried.
func (s *Store) IndexBlockData(data *BlockData) error {
	indexed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		blockKey := key(prefixBlock, data.Block.ID)
		if _, err := txn.Get(blockKey); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		indexed = true
		if err := createRow(txn, blockKey, data.Block, &data.Block.Timestamps); err != nil {
			return err
		}
		if err := txn.Set(heightKey(data.Block.Height), []byte(data.Block.ID)); err != nil {
			return err
		}
		for _, txnRow := range data.Transactions {
			if err := setRow(txn, key(prefixTransaction, txnRow.ID), txnRow, &txnRow.Timestamps); err != nil {
				return err
			}
		}
		for _, event := range data.Events {
			if err := setRow(txn, key(prefixEvent, event.ID), event, &event.Timestamps); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexdb: failed to index block %s: %s", data.Block.ID, err)
	}
	if !indexed {
		return nil
	}
	s.mu.Lock()
	if s.latest == nil || data.Block.Height >= s.latest.Height {
		s.latest = data.Block
	}
	s.mu.Unlock()
	return nil
}

// KeysByAccount returns the indexed keys of the given account.
func (s *Store) KeysByAccount(addr string) ([]*model.AccountKey, error) {
	keys := []*model.AccountKey{}
	err := s.scan(prefixKey+addr+".", func(val []byte) error {
		acctKey := &model.AccountKey{}
		if err := json.Unmarshal(val, acctKey); err != nil {
			return err
		}
		keys = append(keys, acctKey)
		return nil
	})
	return keys, err
}

// LatestBlock returns the most recently indexed block, or ErrNotFound if
// nothing has been indexed yet.
func (s *Store) LatestBlock() (*model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNotFound
	}
	return s.latest, nil
}

// RemoveAll drops all indexed data, e.g. after an emulator restart.
func (s *Store) RemoveAll() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("indexdb: failed to drop data: %s", err)
	}
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
	return nil
}

// ReplaceAccountStorage swaps the stored storage items of the given account
// for the freshly derived set, in a single transaction. Timestamps of rows
// that survive the swap are preserved.
func (s *Store) ReplaceAccountStorage(addr string, items []*model.AccountStorageItem) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(prefixStorage + addr + "/")
		prev := map[string]time.Time{}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		deletions := [][]byte{}
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			existing := &model.AccountStorageItem{}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, existing)
			})
			if err != nil {
				it.Close()
				return err
			}
			prev[existing.ID] = existing.CreatedAt
			deletions = append(deletions, item.KeyCopy(nil))
		}
		it.Close()
		for _, delKey := range deletions {
			if err := txn.Delete(delKey); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		for _, item := range items {
			item.CreatedAt = now
			if created, ok := prev[item.ID]; ok {
				item.CreatedAt = created
			}
			item.UpdatedAt = now
			enc, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := txn.Set(key(prefixStorage, item.ID), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// StorageByAccount returns the indexed storage items of the given account.
func (s *Store) StorageByAccount(addr string) ([]*model.AccountStorageItem, error) {
	items := []*model.AccountStorageItem{}
	err := s.scan(prefixStorage+addr+"/", func(val []byte) error {
		item := &model.AccountStorageItem{}
		if err := json.Unmarshal(val, item); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// TransactionByID returns the indexed transaction with the given id.
func (s *Store) TransactionByID(id string) (*model.Transaction, error) {
	txnRow := &model.Transaction{}
	if err := s.findOne(key(prefixTransaction, id), txnRow); err != nil {
		return nil, err
	}
	return txnRow, nil
}

// Transactions returns all indexed transactions.
func (s *Store) Transactions() ([]*model.Transaction, error) {
	txns := []*model.Transaction{}
	err := s.scan(prefixTransaction, func(val []byte) error {
		txnRow := &model.Transaction{}
		if err := json.Unmarshal(val, txnRow); err != nil {
			return err
		}
		txns = append(txns, txnRow)
		return nil
	})
	return txns, err
}

// UpdateTransactionStatus overwrites the status of the transaction with the
// given id.
func (s *Store) UpdateTransactionStatus(id string, status model.TransactionStatus) error {
	return s.db.Update(func(txn *badger.Txn) error {
		txnRow := &model.Transaction{}
		if err := getRow(txn, key(prefixTransaction, id), txnRow); err != nil {
			return err
		}
		txnRow.Status = status
		txnRow.UpdatedAt = time.Now().UTC()
		enc, err := json.Marshal(txnRow)
		if err != nil {
			return err
		}
		return txn.Set(key(prefixTransaction, id), enc)
	})
}

// UpsertAccount writes the given account row, preserving the creation
// timestamp of any existing row.
func (s *Store) UpsertAccount(acct *model.Account) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev := &model.Account{}
		err := getRow(txn, key(prefixAccount, acct.Address), prev)
		if err != nil && err != ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		acct.CreatedAt = now
		if err == nil {
			acct.CreatedAt = prev.CreatedAt
		}
		acct.UpdatedAt = now
		enc, encErr := json.Marshal(acct)
		if encErr != nil {
			return encErr
		}
		return txn.Set(key(prefixAccount, acct.Address), enc)
	})
}

// UpsertAccountKey writes the given account key row, preserving the creation
// timestamp and any stored private key material of an existing row.
func (s *Store) UpsertAccountKey(acctKey *model.AccountKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev := &model.AccountKey{}
		err := getRow(txn, key(prefixKey, acctKey.ID), prev)
		if err != nil && err != ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		acctKey.CreatedAt = now
		if err == nil {
			acctKey.CreatedAt = prev.CreatedAt
			if prev.PrivateKey != "" {
				acctKey.PrivateKey = prev.PrivateKey
			}
		}
		acctKey.UpdatedAt = now
		enc, encErr := json.Marshal(acctKey)
		if encErr != nil {
			return encErr
		}
		return txn.Set(key(prefixKey, acctKey.ID), enc)
	})
}

// UpsertContract writes the given contract row, preserving the creation
// timestamp of any existing row.
func (s *Store) UpsertContract(contract *model.Contract) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev := &model.Contract{}
		err := getRow(txn, key(prefixContract, contract.ID), prev)
		if err != nil && err != ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		contract.CreatedAt = now
		if err == nil {
			contract.CreatedAt = prev.CreatedAt
		}
		contract.UpdatedAt = now
		enc, encErr := json.Marshal(contract)
		if encErr != nil {
			return encErr
		}
		return txn.Set(key(prefixContract, contract.ID), enc)
	})
}

func (s *Store) deleteRow(rowKey []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(rowKey); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(rowKey)
	})
}

func (s *Store) findOne(rowKey []byte, entity interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		return getRow(txn, rowKey, entity)
	})
}

// loadLatest initializes the cached latest block pointer from the height
// index.
func (s *Store) loadLatest() {
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixHeight)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append([]byte{}, prefix...)
		seek = append(seek, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var blockID string
		if err := it.Item().Value(func(val []byte) error {
			blockID = string(val)
			return nil
		}); err != nil {
			return err
		}
		block := &model.Block{}
		if err := getRow(txn, key(prefixBlock, blockID), block); err != nil {
			return err
		}
		s.latest = block
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to load the latest indexed block: %s", err)
	}
}

func (s *Store) scan(prefix string, each func(val []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		rawPrefix := []byte(prefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = rawPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(each); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexdb: failed to scan %q rows: %s", prefix, err)
	}
	return nil
}

func createRow(txn *badger.Txn, rowKey []byte, entity interface{}, ts *model.Timestamps) error {
	if _, err := txn.Get(rowKey); err == nil {
		return ErrAlreadyExists
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	now := time.Now().UTC()
	ts.CreatedAt = now
	ts.UpdatedAt = now
	enc, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	return txn.Set(rowKey, enc)
}

func getRow(txn *badger.Txn, rowKey []byte, entity interface{}) error {
	item, err := txn.Get(rowKey)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, entity)
	})
}

func heightKey(height uint64) []byte {
	rowKey := make([]byte, len(prefixHeight)+8)
	copy(rowKey, prefixHeight)
	binary.BigEndian.PutUint64(rowKey[len(prefixHeight):], height)
	return rowKey
}

func key(prefix string, id string) []byte {
	return []byte(prefix + id)
}

func setRow(txn *badger.Txn, rowKey []byte, entity interface{}, ts *model.Timestamps) error {
	now := time.Now().UTC()
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = now
	}
	ts.UpdatedAt = now
	enc, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	return txn.Set(rowKey, enc)
}

// New opens the database in the given directory and returns the
// corresponding Store.
func New(dir string) *Store {
	opts := badger.DefaultOptions(dir).WithLogger(log.Badger{Prefix: "indexdb"})
	return open(opts, dir)
}

// NewInMemory returns a Store backed by an in-memory database, e.g. for
// tests.
func NewInMemory() *Store {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(log.Badger{Prefix: "indexdb"})
	return open(opts, "in-memory")
}

func open(opts badger.Options, dir string) *Store {
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open the index database at %s: %s", dir, err)
	}
	process.SetExitHandler(func() {
		log.Infof("Closing the index database")
		if err := db.Close(); err != nil {
			log.Errorf("Got error closing the index database: %s", err)
		}
	})
	store := &Store{
		db: db,
	}
	store.loadLatest()
	return store
}
