// Package indexer drives the block processing pipeline that mirrors a Flow
// network into the local store.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/config"
	"github.com/onflow/flowdex/indexdb"
	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/model"
	"github.com/onflow/flowdex/process"
	"github.com/onflow/flowdex/trace"
	flowaccess "github.com/onflow/flow/protobuf/go/flow/access"
	"github.com/onflow/flow/protobuf/go/flow/entities"
	"github.com/robfig/cron/v3"
)

var (
	blocksProcessed = trace.Counter("indexer", "blocks_processed")
	chainTipHeight  = trace.Gauge("indexer", "chain_tip_height")
	eventsProcessed = trace.Counter("indexer", "events_processed")
	indexedHeight   = trace.Gauge("indexer", "indexed_height")
	tickFailures    = trace.Counter("indexer", "tick_failures")
)

// Gateway abstracts the Access API operations used by the pipeline.
type Gateway interface {
	APIStatus(ctx context.Context) access.Status
	Account(ctx context.Context, addr []byte) (*entities.Account, error)
	BlockByHeight(ctx context.Context, height uint64) (*entities.Block, error)
	Collection(ctx context.Context, hash []byte) (*entities.Collection, error)
	LatestBlock(ctx context.Context) (*entities.Block, error)
	Transaction(ctx context.Context, hash []byte) (*entities.Transaction, error)
	TransactionResult(ctx context.Context, hash []byte) (*flowaccess.TransactionResultResponse, error)
	TxStatusSubscription(hash []byte) access.StatusSubscription
}

// StorageProvider abstracts the storage traversal used for re-deriving
// account storage.
type StorageProvider interface {
	AccountStorageItems(ctx context.Context, addr string) ([]*model.AccountStorageItem, error)
}

// Indexer processes sealed blocks in strictly ascending height order and
// keeps derived account state reconciled with the chain.
type Indexer struct {
	Chain   *config.Chain
	Client  Gateway
	Storage StorageProvider
	Store   *indexdb.Store

	applyPool    pond.Pool
	bootstrapped bool
	mu           sync.Mutex // protects bootstrapped
	once         sync.Once
	pool         pond.Pool
	trackers     sync.WaitGroup
}

// Run schedules pipeline ticks at the configured interval. Ticks never
// overlap: if processing takes longer than the interval, the next tick is
// skipped.
func (i *Indexer) Run(ctx context.Context) {
	i.init()
	sched := cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{}),
			cron.Recover(cronLogger{}),
		),
	)
	spec := fmt.Sprintf("@every %s", i.Chain.ProcessingInterval())
	_, err := sched.AddFunc(spec, func() {
		i.ProcessBlockchainData(ctx)
	})
	if err != nil {
		log.Fatalf("Failed to schedule the processing tick: %s", err)
	}
	sched.Start()
	process.SetExitHandler(func() {
		<-sched.Stop().Done()
		i.trackers.Wait()
	})
	log.Infof("Processing %s blocks every %s", i.Chain.Network, i.Chain.ProcessingInterval())
}

// ProcessBlockchainData runs a single pipeline tick: it checks that the
// Access API is reachable, imports the well-known accounts if needed, and
// processes all unprocessed sealed heights in ascending order. A failed
// height aborts the tick and is retried on the next one.
func (i *Indexer) ProcessBlockchainData(ctx context.Context) {
	i.init()
	if status := i.Client.APIStatus(ctx); status != access.StatusOnline {
		log.Warnf("Skipping processing tick: Access API is %s", status)
		return
	}
	var (
		start    uint64
		end      uint64
		rangeErr error
	)
	group := i.pool.NewGroup()
	group.Submit(func() {
		start, end, rangeErr = i.unprocessedRange(ctx)
	})
	group.Submit(func() {
		i.bootstrapWellKnownAccounts(ctx)
	})
	group.Wait()
	if rangeErr != nil {
		log.Errorf("Failed to compute the unprocessed block range: %s", rangeErr)
		tickFailures.Add(ctx, 1)
		return
	}
	if start > end {
		return
	}
	for height := start; height <= end; height++ {
		if err := i.processBlockAtHeight(ctx, height); err != nil {
			log.Errorf("Failed to process block at height %d: %s", height, err)
			tickFailures.Add(ctx, 1)
			return
		}
	}
	log.Infof("Processed blocks %d to %d", start, end)
}

// init sets up the worker pools. Event handlers run on the main pool and
// block in diff.Apply, so the apply callbacks get a pool of their own. If
// they shared the main pool, a full set of blocked handlers would starve
// their own sub-tasks and hang the tick.
func (i *Indexer) init() {
	i.once.Do(func() {
		workers := i.Chain.Workers
		if workers <= 0 {
			workers = 1
		}
		i.pool = pond.NewPool(workers)
		i.applyPool = pond.NewPool(workers)
	})
}

func (i *Indexer) processBlockAtHeight(ctx context.Context, height uint64) error {
	ctx, span := trace.NewSpan(
		ctx, "flowdex.indexer.ProcessBlock",
		trace.Uint64("height", height),
	)
	data, err := i.blockData(ctx, height)
	if err != nil {
		trace.EndSpanErr(span, err)
		return err
	}
	i.processEvents(ctx, data)
	if err := i.Store.IndexBlockData(data); err != nil {
		trace.EndSpanErr(span, err)
		return err
	}
	i.refreshAccountStorage(ctx)
	for _, txn := range data.Transactions {
		i.trackTransactionStatus(ctx, txn.ID)
	}
	blocksProcessed.Add(ctx, 1)
	eventsProcessed.Add(ctx, int64(len(data.Events)))
	indexedHeight.Observe(ctx, int64(height))
	trace.EndSpanOk(span)
	return nil
}

// refreshAccountStorage re-derives the storage paths of every known account.
// Failures only affect the stale account and are retried on later heights.
func (i *Indexer) refreshAccountStorage(ctx context.Context) {
	addrs, err := i.Store.AccountAddresses()
	if err != nil {
		log.Errorf("Failed to list accounts for storage refresh: %s", err)
		return
	}
	group := i.pool.NewGroup()
	for _, addr := range addrs {
		addr := addr
		group.Submit(func() {
			items, err := i.Storage.AccountStorageItems(ctx, addr)
			if err != nil {
				log.Errorf("Failed to derive storage for account %s: %s", addr, err)
				return
			}
			if err := i.Store.ReplaceAccountStorage(addr, items); err != nil {
				log.Errorf("Failed to persist storage for account %s: %s", addr, err)
			}
		})
	}
	group.Wait()
}

func (i *Indexer) unprocessedRange(ctx context.Context) (uint64, uint64, error) {
	latest, err := i.Client.LatestBlock(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("indexer: failed to fetch the latest sealed block: %s", err)
	}
	chainTipHeight.Observe(ctx, int64(latest.Height))
	last, err := i.Store.LatestBlock()
	if err == indexdb.ErrNotFound {
		start := i.Chain.StartHeight
		if start == 0 {
			start = latest.Height
		}
		return start, latest.Height, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return last.Height + 1, latest.Height, nil
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("cron: %s: %s %v", msg, err, keysAndValues)
}
