package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/onflow/flowdex/indexdb"
	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/model"
	flowaccess "github.com/onflow/flow/protobuf/go/flow/access"
	"github.com/onflow/flow/protobuf/go/flow/entities"
)

// blockData fetches a sealed block together with its transactions and their
// emitted events. Collections and transactions are fetched concurrently, but
// the returned slices preserve on-chain ordering.
func (i *Indexer) blockData(ctx context.Context, height uint64) (*indexdb.BlockData, error) {
	block, err := i.Client.BlockByHeight(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("indexer: failed to fetch block at height %d: %s", height, err)
	}
	collections := make([]*entities.Collection, len(block.CollectionGuarantees))
	group := i.pool.NewGroup()
	for idx, guarantee := range block.CollectionGuarantees {
		idx, guarantee := idx, guarantee
		group.SubmitErr(func() error {
			col, err := i.Client.Collection(ctx, guarantee.CollectionId)
			if err != nil {
				return fmt.Errorf(
					"indexer: failed to fetch collection %s: %s",
					hex.EncodeToString(guarantee.CollectionId), err,
				)
			}
			collections[idx] = col
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	blockID := hex.EncodeToString(block.Id)
	data := &indexdb.BlockData{Block: convertBlock(block)}
	var hashes [][]byte
	for _, col := range collections {
		hashes = append(hashes, col.TransactionIds...)
	}
	txns := make([]*model.Transaction, len(hashes))
	events := make([][]*model.Event, len(hashes))
	group = i.pool.NewGroup()
	for idx, hash := range hashes {
		idx, hash := idx, hash
		group.SubmitErr(func() error {
			txn, result, err := i.fetchTransaction(ctx, hash)
			if err != nil {
				return err
			}
			txnID := hex.EncodeToString(hash)
			txns[idx] = convertTransaction(txnID, blockID, txn, result)
			// Undecodable payloads still leave an event row, just with
			// empty data.
			for _, event := range result.Events {
				row, err := convertEvent(blockID, event)
				if err != nil {
					log.Errorf("Failed to decode an event of transaction %s: %s", txnID, err)
				}
				events[idx] = append(events[idx], row)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	data.Transactions = txns
	for _, rows := range events {
		data.Events = append(data.Events, rows...)
	}
	return data, nil
}

func (i *Indexer) fetchTransaction(ctx context.Context, hash []byte) (*entities.Transaction, *flowaccess.TransactionResultResponse, error) {
	var (
		result    *flowaccess.TransactionResultResponse
		resultErr error
		txn       *entities.Transaction
		txnErr    error
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		txn, txnErr = i.Client.Transaction(ctx, hash)
	}()
	go func() {
		defer wg.Done()
		result, resultErr = i.Client.TransactionResult(ctx, hash)
	}()
	wg.Wait()
	if txnErr != nil {
		return nil, nil, fmt.Errorf(
			"indexer: failed to fetch transaction %s: %s",
			hex.EncodeToString(hash), txnErr,
		)
	}
	if resultErr != nil {
		return nil, nil, fmt.Errorf(
			"indexer: failed to fetch the result of transaction %s: %s",
			hex.EncodeToString(hash), resultErr,
		)
	}
	return txn, result, nil
}
