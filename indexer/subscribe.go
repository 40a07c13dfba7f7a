package indexer

import (
	"context"
	"time"

	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/log"
	flowaccess "github.com/onflow/flow/protobuf/go/flow/access"
)

// sealTimeout bounds how long a transaction status is tracked before the
// subscription is abandoned.
const sealTimeout = 10 * time.Minute

// trackTransactionStatus keeps the stored status of a transaction current
// until it reaches a final state. Tracking runs in the background so block
// processing is never held up by unsealed transactions.
func (i *Indexer) trackTransactionStatus(ctx context.Context, txnID string) {
	hash, err := access.FromHex(txnID)
	if err != nil {
		log.Errorf("Failed to track the status of transaction %q: %s", txnID, err)
		return
	}
	sub := i.Client.TxStatusSubscription(hash)
	i.trackers.Add(1)
	go func() {
		defer i.trackers.Done()
		ctx, cancel := context.WithTimeout(ctx, sealTimeout)
		defer cancel()
		unsubscribe := sub.Subscribe(func(result *flowaccess.TransactionResultResponse) {
			err := i.Store.UpdateTransactionStatus(txnID, convertStatus(result))
			if err != nil {
				log.Errorf("Failed to update the status of transaction %s: %s", txnID, err)
			}
		})
		defer unsubscribe()
		if err := sub.OnceSealed(ctx); err != nil {
			log.Warnf("Gave up tracking the status of transaction %s: %s", txnID, err)
		}
	}()
}
