package indexer

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/onflow/cadence"
	jsoncdc "github.com/onflow/cadence/encoding/json"
	// Registers the type ID decoder for flow.* event types, which the
	// JSON-Cadence payload decoding below depends on.
	_ "github.com/onflow/cadence/runtime/stdlib"
	"github.com/onflow/flowdex/config"
	"github.com/onflow/flowdex/interactions"
	"github.com/onflow/flowdex/model"
	flowaccess "github.com/onflow/flow/protobuf/go/flow/access"
	"github.com/onflow/flow/protobuf/go/flow/entities"
)

func convertAccount(chain *config.Chain, acct *entities.Account, blockID string) (*model.Account, []*model.AccountKey, []*model.Contract) {
	addr := prefixedAddress(acct.Address)
	tags := []string{}
	if chain.IsWellKnownAddress(addr) {
		tags = append(tags, model.TagDefault)
	}
	if chain.IsServiceAddress(addr) {
		tags = append(tags, model.TagService)
	}
	account := &model.Account{
		Address: addr,
		Balance: acct.Balance,
		BlockID: blockID,
		Code:    string(acct.Code),
		Tags:    tags,
	}
	keys := []*model.AccountKey{}
	for _, key := range acct.Keys {
		publicKey := hex.EncodeToString(key.PublicKey)
		keys = append(keys, &model.AccountKey{
			ID:             model.AccountKeyID(addr, publicKey),
			AccountAddress: addr,
			Index:          key.Index,
			PublicKey:      publicKey,
			SignAlgo:       model.SignAlgoName(key.SignAlgo),
			HashAlgo:       model.HashAlgoName(key.HashAlgo),
			Weight:         key.Weight,
			SequenceNumber: key.SequenceNumber,
			Revoked:        key.Revoked,
		})
	}
	names := make([]string, 0, len(acct.Contracts))
	for name := range acct.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	contracts := []*model.Contract{}
	for _, name := range names {
		contracts = append(contracts, &model.Contract{
			ID:             model.ContractID(addr, name),
			AccountAddress: addr,
			Name:           name,
			Code:           string(acct.Contracts[name]),
		})
	}
	return account, keys, contracts
}

func convertBlock(block *entities.Block) *model.Block {
	guarantees := []model.CollectionGuarantee{}
	for _, guarantee := range block.CollectionGuarantees {
		guarantees = append(guarantees, model.CollectionGuarantee{
			CollectionID: hex.EncodeToString(guarantee.CollectionId),
			Signatures:   hexSignatures(guarantee.Signatures),
		})
	}
	seals := []model.BlockSeal{}
	for _, seal := range block.BlockSeals {
		seals = append(seals, model.BlockSeal{
			BlockID:            hex.EncodeToString(seal.BlockId),
			ExecutionReceiptID: hex.EncodeToString(seal.ExecutionReceiptId),
		})
	}
	row := &model.Block{
		ID:                   hex.EncodeToString(block.Id),
		ParentID:             hex.EncodeToString(block.ParentId),
		Height:               block.Height,
		CollectionGuarantees: guarantees,
		BlockSeals:           seals,
		Signatures:           hexSignatures(block.Signatures),
	}
	if block.Timestamp != nil {
		row.Timestamp = block.Timestamp.AsTime()
	}
	return row
}

func convertEvent(blockID string, event *entities.Event) (*model.Event, error) {
	txnID := hex.EncodeToString(event.TransactionId)
	row := &model.Event{
		ID:               model.EventID(txnID, event.EventIndex),
		TransactionID:    txnID,
		BlockID:          blockID,
		Type:             event.Type,
		TransactionIndex: event.TransactionIndex,
		EventIndex:       event.EventIndex,
		Data:             map[string]interface{}{},
	}
	val, err := jsoncdc.Decode(nil, event.Payload)
	if err != nil {
		return row, fmt.Errorf("indexer: failed to decode payload of event %s: %s", row.ID, err)
	}
	if payload, ok := decodeValue(val).(map[string]interface{}); ok {
		row.Data = payload
	}
	return row, nil
}

// convertStatus remaps the gRPC status code the way downstream consumers
// expect: 0 and 1 pass through, everything else collapses to 1.
func convertStatus(result *flowaccess.TransactionResultResponse) model.TransactionStatus {
	code := result.StatusCode
	if code > 1 {
		code = 1
	}
	return model.TransactionStatus{
		ExecutionStatus: result.Status.String(),
		GrpcStatusCode:  code,
		ErrorMessage:    result.ErrorMessage,
	}
}

func convertTransaction(txnID string, blockID string, txn *entities.Transaction, result *flowaccess.TransactionResultResponse) *model.Transaction {
	interaction := interactions.Parse(txn.Script)
	args := []model.TransactionArgument{}
	for idx, raw := range txn.Arguments {
		arg := model.TransactionArgument{
			Identifier: fmt.Sprintf("arg%d", idx),
			ValueJSON:  string(raw),
		}
		if idx < len(interaction.Parameters) {
			param := interaction.Parameters[idx]
			arg.Identifier = param.Identifier
			arg.Kind = param.Type.Kind.String()
		}
		args = append(args, arg)
	}
	authorizers := []string{}
	for _, addr := range txn.Authorizers {
		authorizers = append(authorizers, prefixedAddress(addr))
	}
	row := &model.Transaction{
		ID:                 txnID,
		BlockID:            blockID,
		Script:             string(txn.Script),
		Arguments:          args,
		ReferenceBlockID:   hex.EncodeToString(txn.ReferenceBlockId),
		GasLimit:           txn.GasLimit,
		Payer:              prefixedAddress(txn.Payer),
		Authorizers:        authorizers,
		PayloadSignatures:  convertSignatures(txn.PayloadSignatures),
		EnvelopeSignatures: convertSignatures(txn.EnvelopeSignatures),
		Status:             convertStatus(result),
	}
	if txn.ProposalKey != nil {
		row.ProposalKey = model.ProposalKey{
			Address:        prefixedAddress(txn.ProposalKey.Address),
			KeyID:          txn.ProposalKey.KeyId,
			SequenceNumber: txn.ProposalKey.SequenceNumber,
		}
	}
	return row
}

func convertSignatures(signatures []*entities.Transaction_Signature) []model.TransactionSignature {
	rows := []model.TransactionSignature{}
	for _, sig := range signatures {
		rows = append(rows, model.TransactionSignature{
			Address:   prefixedAddress(sig.Address),
			KeyID:     sig.KeyId,
			Signature: hex.EncodeToString(sig.Signature),
		})
	}
	return rows
}

// decodeValue maps a Cadence value to plain Go values for JSON storage.
// Composite values become maps keyed by field name, addresses become
// prefixed hex strings, and fixed-point numbers keep their decimal form.
func decodeValue(val cadence.Value) interface{} {
	switch v := val.(type) {
	case cadence.Address:
		return "0x" + hex.EncodeToString(v.Bytes())
	case cadence.Optional:
		if v.Value == nil {
			return nil
		}
		return decodeValue(v.Value)
	case cadence.Array:
		elems := make([]interface{}, len(v.Values))
		for i, elem := range v.Values {
			elems[i] = decodeValue(elem)
		}
		return elems
	case cadence.Dictionary:
		pairs := map[string]interface{}{}
		for _, pair := range v.Pairs {
			pairs[fmt.Sprintf("%v", decodeValue(pair.Key))] = decodeValue(pair.Value)
		}
		return pairs
	case cadence.Event:
		var fields []cadence.Field
		if v.EventType != nil {
			fields = v.EventType.Fields
		}
		return decodeComposite(fields, v.Fields)
	case cadence.Struct:
		var fields []cadence.Field
		if v.StructType != nil {
			fields = v.StructType.Fields
		}
		return decodeComposite(fields, v.Fields)
	case cadence.Resource:
		var fields []cadence.Field
		if v.ResourceType != nil {
			fields = v.ResourceType.Fields
		}
		return decodeComposite(fields, v.Fields)
	case cadence.Enum:
		var fields []cadence.Field
		if v.EnumType != nil {
			fields = v.EnumType.Fields
		}
		return decodeComposite(fields, v.Fields)
	case cadence.UFix64:
		return v.String()
	case cadence.Fix64:
		return v.String()
	case cadence.TypeValue:
		if v.StaticType == nil {
			return ""
		}
		return v.StaticType.ID()
	case cadence.Path:
		return v.String()
	}
	return val.ToGoValue()
}

func decodeComposite(fields []cadence.Field, values []cadence.Value) interface{} {
	data := map[string]interface{}{}
	for i, value := range values {
		name := fmt.Sprintf("field%d", i)
		if i < len(fields) {
			name = fields[i].Identifier
		}
		data[name] = decodeValue(value)
	}
	return data
}

func hexSignatures(signatures [][]byte) []string {
	rows := []string{}
	for _, sig := range signatures {
		rows = append(rows, hex.EncodeToString(sig))
	}
	return rows
}

func prefixedAddress(addr []byte) string {
	return "0x" + hex.EncodeToString(addr)
}
