// Command flowdexd runs the Flow network indexing daemon
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/cache"
	"github.com/onflow/flowdex/config"
	"github.com/onflow/flowdex/indexdb"
	"github.com/onflow/flowdex/indexer"
	"github.com/onflow/flowdex/log"
	"github.com/onflow/flowdex/process"
	"github.com/onflow/flowdex/storage"
	"github.com/onflow/flowdex/trace"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: flowdexd path/to/config.json")
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	process.SetExitHandler(cancel)
	cfg := config.Init(ctx, os.Args[1])
	trace.Init(ctx)
	index := indexdb.New(cfg.PathFor(cfg.Network + "-index"))
	if cfg.PurgeOnStart {
		log.Infof("Purging the %s index", cfg.Network)
		if err := index.RemoveAll(); err != nil {
			log.Fatalf("Failed to purge the %s index: %s", cfg.Network, err)
		}
	}
	var store *cache.Store
	if cfg.Cache {
		store = cache.New(cfg.PathFor(cfg.Network + "-cache"))
	}
	pool := access.New(ctx, cfg.AccessNodes, store)
	log.Infof("Indexing %s", cfg.Network)
	idx := &indexer.Indexer{
		Chain:   cfg,
		Client:  pool,
		Storage: storage.New(pool),
		Store:   index,
	}
	idx.Run(ctx)
	<-ctx.Done()
}
