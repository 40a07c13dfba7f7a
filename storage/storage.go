// Package storage derives the storage paths of on-chain accounts.
package storage

import (
	"context"
	"fmt"

	"github.com/onflow/cadence"
	"github.com/onflow/flowdex/access"
	"github.com/onflow/flowdex/model"
)

// Script that walks an account's public and stored paths and returns both
// sets in a single result.
const traversalScript = `
pub struct CapabilityPathItem {
    pub let address: Address
    pub let path: String
    pub let type: Type
    pub let targetPath: String?

    init(address: Address, path: String, type: Type, targetPath: String?) {
        self.address = address
        self.path = path
        self.type = type
        self.targetPath = targetPath
    }
}

pub struct StoragePathItem {
    pub let address: Address
    pub let path: String
    pub let type: Type

    init(address: Address, path: String, type: Type) {
        self.address = address
        self.path = path
        self.type = type
    }
}

pub struct StorageTraversalResult {
    pub let capabilityPathItems: [CapabilityPathItem]
    pub let storagePathItems: [StoragePathItem]

    init(capabilityPathItems: [CapabilityPathItem], storagePathItems: [StoragePathItem]) {
        self.capabilityPathItems = capabilityPathItems
        self.storagePathItems = storagePathItems
    }
}

pub fun main(address: Address): StorageTraversalResult {
    let account = getAuthAccount(address)
    let capabilityPathItems: [CapabilityPathItem] = []
    let storagePathItems: [StoragePathItem] = []

    account.forEachPublic(fun (path: PublicPath, type: Type): Bool {
        var targetPath: String? = nil
        if let target = account.getLinkTarget(path) {
            targetPath = target.toString()
        }
        capabilityPathItems.append(CapabilityPathItem(
            address: account.address,
            path: path.toString(),
            type: type,
            targetPath: targetPath
        ))
        return true
    })

    account.forEachStored(fun (path: StoragePath, type: Type): Bool {
        storagePathItems.append(StoragePathItem(
            address: account.address,
            path: path.toString(),
            type: type
        ))
        return true
    })

    return StorageTraversalResult(
        capabilityPathItems: capabilityPathItems,
        storagePathItems: storagePathItems
    )
}
`

// Executor runs Cadence scripts against the latest execution state.
type Executor interface {
	Execute(ctx context.Context, script []byte, args []cadence.Value) (cadence.Value, error)
}

// Service derives account storage items via script execution.
type Service struct {
	client Executor
}

// New returns a storage Service backed by the given script executor.
func New(client Executor) *Service {
	return &Service{
		client: client,
	}
}

// AccountStorageItems re-derives the full set of storage items for the given
// prefixed account address.
func (s *Service) AccountStorageItems(ctx context.Context, addr string) ([]*model.AccountStorageItem, error) {
	raw, err := access.FromHex(addr)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid account address %q: %s", addr, err)
	}
	val, err := s.client.Execute(ctx, []byte(traversalScript), []cadence.Value{
		cadence.BytesToAddress(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: traversal script failed for %s: %s", addr, err)
	}
	return decodeTraversalResult(addr, val)
}

// decodeTraversalResult unpacks the script result. Struct fields are accessed
// positionally, matching the init order declared in the script.
func decodeTraversalResult(addr string, val cadence.Value) ([]*model.AccountStorageItem, error) {
	result, ok := val.(cadence.Struct)
	if !ok || len(result.Fields) != 2 {
		return nil, fmt.Errorf("storage: unexpected traversal script result %T for %s", val, addr)
	}
	capabilityItems, ok := result.Fields[0].(cadence.Array)
	if !ok {
		return nil, fmt.Errorf("storage: unexpected capability path items for %s", addr)
	}
	storedItems, ok := result.Fields[1].(cadence.Array)
	if !ok {
		return nil, fmt.Errorf("storage: unexpected storage path items for %s", addr)
	}
	items := []*model.AccountStorageItem{}
	for _, elem := range capabilityItems.Values {
		item, err := decodeItem(addr, elem, true)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	for _, elem := range storedItems.Values {
		item, err := decodeItem(addr, elem, false)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(addr string, val cadence.Value, capability bool) (*model.AccountStorageItem, error) {
	item, ok := val.(cadence.Struct)
	if !ok {
		return nil, fmt.Errorf("storage: unexpected path item %T for %s", val, addr)
	}
	want := 3
	if capability {
		want = 4
	}
	if len(item.Fields) != want {
		return nil, fmt.Errorf("storage: unexpected path item arity %d for %s", len(item.Fields), addr)
	}
	path, ok := item.Fields[1].(cadence.String)
	if !ok {
		return nil, fmt.Errorf("storage: unexpected path value %T for %s", item.Fields[1], addr)
	}
	row := &model.AccountStorageItem{
		ID:             model.StorageItemID(addr, string(path)),
		AccountAddress: addr,
		Path:           string(path),
		Domain:         model.StorageDomain(string(path)),
		Type:           typeID(item.Fields[2]),
	}
	if capability {
		if opt, ok := item.Fields[3].(cadence.Optional); ok && opt.Value != nil {
			if target, ok := opt.Value.(cadence.String); ok {
				row.TargetPath = string(target)
			}
		}
	}
	return row, nil
}

func typeID(val cadence.Value) string {
	if tv, ok := val.(cadence.TypeValue); ok && tv.StaticType != nil {
		return tv.StaticType.ID()
	}
	return ""
}
