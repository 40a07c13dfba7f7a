package storage

import (
	"testing"

	"github.com/onflow/cadence"
)

func capabilityItem(addr cadence.Address, path string, target string) cadence.Value {
	var targetVal cadence.Value
	if target != "" {
		targetVal = cadence.String(target)
	}
	return cadence.Struct{
		Fields: []cadence.Value{
			addr,
			cadence.String(path),
			cadence.TypeValue{},
			cadence.Optional{Value: targetVal},
		},
	}
}

func storedItem(addr cadence.Address, path string) cadence.Value {
	return cadence.Struct{
		Fields: []cadence.Value{
			addr,
			cadence.String(path),
			cadence.TypeValue{},
		},
	}
}

func TestDecodeTraversalResult(t *testing.T) {
	addr := cadence.BytesToAddress([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	result := cadence.Struct{
		Fields: []cadence.Value{
			cadence.Array{Values: []cadence.Value{
				capabilityItem(addr, "/public/flowTokenReceiver", "/storage/flowTokenVault"),
				capabilityItem(addr, "/public/greeting", ""),
			}},
			cadence.Array{Values: []cadence.Value{
				storedItem(addr, "/storage/flowTokenVault"),
			}},
		},
	}
	items, err := decodeTraversalResult("0x0000000000000001", result)
	if err != nil {
		t.Fatalf("decodeTraversalResult failed: %s", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	first := items[0]
	if first.ID != "0x0000000000000001/public/flowTokenReceiver" {
		t.Fatalf("got id %q", first.ID)
	}
	if first.Domain != "public" {
		t.Fatalf("got domain %q, want public", first.Domain)
	}
	if first.TargetPath != "/storage/flowTokenVault" {
		t.Fatalf("got target path %q", first.TargetPath)
	}
	if items[1].TargetPath != "" {
		t.Fatalf("got target path %q for an unlinked capability", items[1].TargetPath)
	}
	last := items[2]
	if last.Domain != "storage" {
		t.Fatalf("got domain %q, want storage", last.Domain)
	}
	if last.Path != "/storage/flowTokenVault" {
		t.Fatalf("got path %q", last.Path)
	}
}

func TestDecodeTraversalResultRejectsUnexpectedShapes(t *testing.T) {
	if _, err := decodeTraversalResult("0x1", cadence.String("nope")); err == nil {
		t.Fatalf("expected an error for a non-struct result")
	}
	malformed := cadence.Struct{
		Fields: []cadence.Value{
			cadence.Array{Values: []cadence.Value{cadence.String("nope")}},
			cadence.Array{},
		},
	}
	if _, err := decodeTraversalResult("0x1", malformed); err == nil {
		t.Fatalf("expected an error for malformed path items")
	}
}
