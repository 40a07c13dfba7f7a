// Command tipheight compares the indexed height with the network tip.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/config"
	"github.com/onflow/flowdex/indexdb"
	"github.com/onflow/flowdex/log"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: tipheight path/to/config.json")
		os.Exit(1)
	}
	ctx := context.Background()
	cfg := config.Init(ctx, os.Args[1])
	pool := access.New(ctx, cfg.AccessNodes, nil)
	latest, err := pool.LatestBlock(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch the latest block on %s: %s", cfg.Network, err)
	}
	log.Infof(
		"Latest block on %s is %x at height %d",
		cfg.Network, latest.Id, latest.Height,
	)
	index := indexdb.New(cfg.PathFor(cfg.Network + "-index"))
	last, err := index.LatestBlock()
	if err == indexdb.ErrNotFound {
		log.Infof("No blocks indexed for %s yet", cfg.Network)
		return
	}
	if err != nil {
		log.Fatalf("Failed to read the indexed height for %s: %s", cfg.Network, err)
	}
	log.Infof(
		"Indexed height for %s is %d, lagging by %d blocks",
		cfg.Network, last.Height, latest.Height-last.Height,
	)
}
