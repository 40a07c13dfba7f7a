// Package model defines the entities persisted by the indexer.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ZeroBlockID is the synthetic block that rows predating the indexed range
// are attributed to, e.g. the well-known accounts imported at startup.
const ZeroBlockID = "0000000000000000000000000000000000000000000000000000000000000000"

// Tags attached to accounts.
const (
	TagDefault = "Default"
	TagService = "Service"
)

var hashAlgoNames = map[uint32]string{
	1: "SHA2_256",
	2: "SHA2_384",
	3: "SHA3_256",
	4: "SHA3_384",
	5: "KMAC128_BLS_BLS12_381",
}

var signAlgoNames = map[uint32]string{
	1: "ECDSA_P256",
	2: "ECDSA_secp256k1",
	3: "BLS_BLS12_381",
}

// Timestamps tracks when a row was first written and last modified. The store
// manages both fields.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Account mirrors an on-chain account.
type Account struct {
	Address string   `json:"address"`
	Balance uint64   `json:"balance"`
	BlockID string   `json:"blockId"`
	Code    string   `json:"code"`
	Tags    []string `json:"tags"`
	Timestamps
}

// AccountKey mirrors a public key attached to an on-chain account. PrivateKey
// is only ever populated by external tooling for locally managed accounts,
// and is preserved across indexer writes.
type AccountKey struct {
	ID             string `json:"id"`
	AccountAddress string `json:"accountAddress"`
	Index          uint32 `json:"index"`
	PublicKey      string `json:"publicKey"`
	PrivateKey     string `json:"privateKey,omitempty"`
	SignAlgo       string `json:"signAlgo"`
	HashAlgo       string `json:"hashAlgo"`
	Weight         uint32 `json:"weight"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	Revoked        bool   `json:"revoked"`
	Timestamps
}

// AccountStorageItem mirrors a single path within an account's storage.
type AccountStorageItem struct {
	ID             string `json:"id"`
	AccountAddress string `json:"accountAddress"`
	Path           string `json:"path"`
	Domain         string `json:"domain"`
	Type           string `json:"type"`
	TargetPath     string `json:"targetPath,omitempty"`
	Timestamps
}

// Block mirrors a sealed on-chain block.
type Block struct {
	ID                   string                `json:"id"`
	ParentID             string                `json:"parentId"`
	Height               uint64                `json:"height"`
	Timestamp            time.Time             `json:"timestamp"`
	CollectionGuarantees []CollectionGuarantee `json:"collectionGuarantees"`
	BlockSeals           []BlockSeal           `json:"blockSeals"`
	Signatures           []string              `json:"signatures"`
	Timestamps
}

// BlockSeal attests to the execution result of an earlier block.
type BlockSeal struct {
	BlockID            string `json:"blockId"`
	ExecutionReceiptID string `json:"executionReceiptId"`
}

// CollectionGuarantee references a collection included in a block.
type CollectionGuarantee struct {
	CollectionID string   `json:"collectionId"`
	Signatures   []string `json:"signatures"`
}

// Contract mirrors a contract deployed to an on-chain account.
type Contract struct {
	ID             string `json:"id"`
	AccountAddress string `json:"accountAddress"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	Timestamps
}

// Event mirrors an event emitted during transaction execution. Data holds the
// decoded Cadence payload keyed by field name.
type Event struct {
	ID               string                 `json:"id"`
	TransactionID    string                 `json:"transactionId"`
	BlockID          string                 `json:"blockId"`
	Type             string                 `json:"type"`
	TransactionIndex uint32                 `json:"transactionIndex"`
	EventIndex       uint32                 `json:"eventIndex"`
	Data             map[string]interface{} `json:"data"`
	Timestamps
}

// ProposalKey identifies the key used to sequence a transaction.
type ProposalKey struct {
	Address        string `json:"address"`
	KeyID          uint32 `json:"keyId"`
	SequenceNumber uint64 `json:"sequenceNumber"`
}

// Transaction mirrors an on-chain transaction together with its latest known
// status.
type Transaction struct {
	ID                 string                 `json:"id"`
	BlockID            string                 `json:"blockId"`
	Script             string                 `json:"script"`
	Arguments          []TransactionArgument  `json:"arguments"`
	ReferenceBlockID   string                 `json:"referenceBlockId"`
	GasLimit           uint64                 `json:"gasLimit"`
	Payer              string                 `json:"payer"`
	ProposalKey        ProposalKey            `json:"proposalKey"`
	Authorizers        []string               `json:"authorizers"`
	PayloadSignatures  []TransactionSignature `json:"payloadSignatures"`
	EnvelopeSignatures []TransactionSignature `json:"envelopeSignatures"`
	Status             TransactionStatus      `json:"status"`
	Timestamps
}

// TransactionArgument pairs a raw Cadence argument with the parameter it
// binds to in the transaction source, when the source could be parsed.
type TransactionArgument struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
	ValueJSON  string `json:"valueAsJson"`
}

// TransactionSignature mirrors a payload or envelope signature.
type TransactionSignature struct {
	Address   string `json:"address"`
	KeyID     uint32 `json:"keyId"`
	Signature string `json:"signature"`
}

// TransactionStatus captures the execution outcome of a transaction.
type TransactionStatus struct {
	ExecutionStatus string `json:"executionStatus"`
	GrpcStatusCode  uint32 `json:"grpcStatus"`
	ErrorMessage    string `json:"errorMessage"`
}

// AccountKeyID returns the identity of an account key row.
func AccountKeyID(address string, publicKey string) string {
	return address + "." + publicKey
}

// ContractID returns the identity of a contract row.
func ContractID(address string, name string) string {
	return address + "." + name
}

// EventID returns the identity of an event row.
func EventID(txnID string, eventIndex uint32) string {
	return fmt.Sprintf("%s.%d", txnID, eventIndex)
}

// StorageItemID returns the identity of an account storage row. The path
// always begins with a slash.
func StorageItemID(address string, path string) string {
	return address + path
}

// HashAlgoName maps the protobuf hash algorithm enum to its name.
func HashAlgoName(algo uint32) string {
	if name, ok := hashAlgoNames[algo]; ok {
		return name
	}
	return "unknown"
}

// SignAlgoName maps the protobuf signature algorithm enum to its name.
func SignAlgoName(algo uint32) string {
	if name, ok := signAlgoNames[algo]; ok {
		return name
	}
	return "unknown"
}

// StorageDomain derives the storage domain from a path like
// /storage/flowTokenVault.
func StorageDomain(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	return parts[0]
}
