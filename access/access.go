// Package access provides a client interface for the Flow Access API.
package access

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/onflow/cadence"
	jsoncdc "github.com/onflow/cadence/encoding/json"
	"github.com/onflow/flowdex/cache"
	"github.com/onflow/flow/protobuf/go/flow/access"
	"github.com/onflow/flow/protobuf/go/flow/entities"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	maxMessageSize = 100 << 20 // 100MiB
	pollInterval   = time.Second
	timeout        = time.Minute
)

// Status indicates whether the Access API servers are reachable.
type Status int

// Status values.
const (
	StatusOffline Status = iota
	StatusOnline
)

func (s Status) String() string {
	if s == StatusOnline {
		return "online"
	}
	return "offline"
}

// Client for the Flow Access API.
//
// All methods impose a default timeout of one minute.
type Client struct {
	client access.AccessAPIClient
}

// Account returns the account for the given address from the latest sealed
// execution state.
func (c Client) Account(ctx context.Context, addr []byte) (*entities.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetAccountAtLatestBlock(
		ctx,
		&access.GetAccountAtLatestBlockRequest{
			Address: addr,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	if resp.Account == nil {
		return nil, fmt.Errorf("access: nil account returned for address %x", addr)
	}
	return resp.Account, nil
}

// BlockByHeight returns the block for the given height.
func (c Client) BlockByHeight(ctx context.Context, height uint64) (*entities.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetBlockByHeight(
		ctx,
		&access.GetBlockByHeightRequest{
			Height:            height,
			FullBlockResponse: true,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	return resp.Block, nil
}

// Collection returns the collection of transactions for the given collection
// hash.
func (c Client) Collection(ctx context.Context, hash []byte) (*entities.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetCollectionByID(
		ctx,
		&access.GetCollectionByIDRequest{
			Id: hash,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	return resp.Collection, nil
}

// Execute runs the given Cadence script against the latest sealed execution
// state and returns the decoded result.
func (c Client) Execute(ctx context.Context, script []byte, args []cadence.Value) (cadence.Value, error) {
	cargs := make([][]byte, len(args))
	for i, arg := range args {
		val, err := jsoncdc.Encode(arg)
		if err != nil {
			return nil, fmt.Errorf(
				"access: failed to encode Cadence value for ExecuteScriptAtLatestBlock: %s",
				err,
			)
		}
		cargs[i] = val
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.ExecuteScriptAtLatestBlock(
		ctx,
		&access.ExecuteScriptAtLatestBlockRequest{
			Arguments: cargs,
			Script:    script,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	val, err := jsoncdc.Decode(nil, resp.Value)
	if err != nil {
		return nil, fmt.Errorf("access: failed to decode Cadence value for ExecuteScriptAtLatestBlock: %s", err)
	}
	return val, nil
}

// LatestBlock returns the most recently sealed block.
func (c Client) LatestBlock(ctx context.Context) (*entities.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetLatestBlock(
		ctx,
		&access.GetLatestBlockRequest{
			IsSealed:          true,
			FullBlockResponse: true,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	return resp.Block, nil
}

// Ping returns whether the client was able to ping the Access API server.
func (c Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	_, err := c.client.Ping(ctx, &access.PingRequest{})
	cancel()
	return err
}

// Transaction returns the transaction info for the given transaction hash.
func (c Client) Transaction(ctx context.Context, hash []byte) (*entities.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetTransaction(
		ctx,
		&access.GetTransactionRequest{
			Id: hash,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

// TransactionResult returns the latest execution result for the given
// transaction hash.
func (c Client) TransactionResult(ctx context.Context, hash []byte) (*access.TransactionResultResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.GetTransactionResult(
		ctx,
		&access.GetTransactionRequest{
			Id: hash,
		},
	)
	cancel()
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// NodeConfig defines the metadata needed to connect to an Access API server.
type NodeConfig struct {
	// Address specifies the host:port for the gRPC endpoint.
	Address string `json:"address"`
	// TLS enables transport security using the system certificate pool.
	TLS bool `json:"tls"`
}

// Pool represents a pool of Flow Access API clients.
type Pool []Client

// Client returns a random client from the pool.
func (p Pool) Client() Client {
	/* #nosec G404 -- We don't need a CSPRNG here */
	return p[rand.Int()%len(p)]
}

// APIStatus reports whether any of the Access API servers responds to pings.
func (p Pool) APIStatus(ctx context.Context) Status {
	for _, client := range p {
		if client.Ping(ctx) == nil {
			return StatusOnline
		}
	}
	return StatusOffline
}

// Account proxies to a random client from the pool.
func (p Pool) Account(ctx context.Context, addr []byte) (*entities.Account, error) {
	return p.Client().Account(ctx, addr)
}

// BlockByHeight proxies to a random client from the pool.
func (p Pool) BlockByHeight(ctx context.Context, height uint64) (*entities.Block, error) {
	return p.Client().BlockByHeight(ctx, height)
}

// Collection proxies to a random client from the pool.
func (p Pool) Collection(ctx context.Context, hash []byte) (*entities.Collection, error) {
	return p.Client().Collection(ctx, hash)
}

// Execute proxies to a random client from the pool.
func (p Pool) Execute(ctx context.Context, script []byte, args []cadence.Value) (cadence.Value, error) {
	return p.Client().Execute(ctx, script, args)
}

// LatestBlock proxies to a random client from the pool.
func (p Pool) LatestBlock(ctx context.Context) (*entities.Block, error) {
	return p.Client().LatestBlock(ctx)
}

// Transaction proxies to a random client from the pool.
func (p Pool) Transaction(ctx context.Context, hash []byte) (*entities.Transaction, error) {
	return p.Client().Transaction(ctx, hash)
}

// TransactionResult proxies to a random client from the pool.
func (p Pool) TransactionResult(ctx context.Context, hash []byte) (*access.TransactionResultResponse, error) {
	return p.Client().TransactionResult(ctx, hash)
}

// TxStatusSubscription returns a polling subscription for status changes of
// the given transaction.
func (p Pool) TxStatusSubscription(hash []byte) StatusSubscription {
	return &statusPoller{
		hash: hash,
		pool: p,
	}
}

// StatusSubscription tracks status changes of a single transaction until it
// is sealed.
type StatusSubscription interface {
	// Subscribe invokes cb from a background goroutine whenever the
	// transaction's status changes. The returned function cancels the
	// subscription; it is also cancelled automatically once the transaction
	// has been sealed or has expired.
	Subscribe(cb func(*access.TransactionResultResponse)) (unsubscribe func())
	// OnceSealed blocks until the transaction has been sealed or has expired.
	OnceSealed(ctx context.Context) error
}

type statusPoller struct {
	hash []byte
	pool Pool
}

func (s *statusPoller) Subscribe(cb func(*access.TransactionResultResponse)) func() {
	done := make(chan struct{})
	unsubscribe := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	go func() {
		last := entities.TransactionStatus(-1)
		for {
			select {
			case <-done:
				return
			case <-time.After(pollInterval):
			}
			result, err := s.pool.TransactionResult(context.Background(), s.hash)
			if err != nil {
				continue
			}
			if result.Status != last {
				last = result.Status
				cb(result)
			}
			if isFinal(result.Status) {
				return
			}
		}
	}()
	return unsubscribe
}

func (s *statusPoller) OnceSealed(ctx context.Context) error {
	for {
		result, err := s.pool.TransactionResult(ctx, s.hash)
		if err == nil && isFinal(result.Status) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func isFinal(status entities.TransactionStatus) bool {
	return status == entities.TransactionStatus_SEALED ||
		status == entities.TransactionStatus_EXPIRED
}

// FromHex decodes a hex-encoded identifier or address, tolerating an 0x
// prefix.
func FromHex(v string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(v, "0x"))
}

// New returns a Flow Access API client pool that will return random clients
// connected to one of the specified nodes.
func New(ctx context.Context, nodes []NodeConfig, store *cache.Store) Pool {
	pool := Pool{}
	for _, node := range nodes {
		opts := []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize)),
		}
		if node.TLS {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			})))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}
		if store != nil {
			opts = append(opts, store.DialOptions()...)
		}
		conn, err := grpc.DialContext(ctx, node.Address, opts...)
		if err != nil {
			log.Fatalf("Failed to dial Access API server %s: %s", node.Address, err)
		}
		pool = append(pool, Client{access.NewAccessAPIClient(conn)})
	}
	return pool
}
