package diff

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/onflow/flowdex/model"
)

type record struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Value   int    `json:"value"`
	model.Timestamps
}

func TestComputePartition(t *testing.T) {
	old := []record{
		{Address: "0x1", Name: "a", Value: 1},
		{Address: "0x1", Name: "b", Value: 2},
		{Address: "0x2", Name: "c", Value: 3},
	}
	latest := []record{
		{Address: "0x1", Name: "a", Value: 1},
		{Address: "0x1", Name: "b", Value: 20},
		{Address: "0x3", Name: "d", Value: 4},
	}
	d, err := Compute([]string{"Address", "Name"}, old, latest, true)
	if err != nil {
		t.Fatalf("Compute failed: %s", err)
	}
	if len(d.Created) != 1 || d.Created[0].Name != "d" {
		t.Fatalf("got created %v, want just 0x3/d", d.Created)
	}
	if len(d.Updated) != 1 || d.Updated[0].Name != "b" {
		t.Fatalf("got updated %v, want just 0x1/b", d.Updated)
	}
	if len(d.Deleted) != 1 || d.Deleted[0].Name != "c" {
		t.Fatalf("got deleted %v, want just 0x2/c", d.Deleted)
	}
}

func TestComputeShallowUpdatesEverything(t *testing.T) {
	old := []record{
		{Address: "0x1", Name: "a", Value: 1},
		{Address: "0x2", Name: "b", Value: 2},
	}
	latest := []record{
		{Address: "0x1", Name: "a", Value: 1},
		{Address: "0x3", Name: "c", Value: 3},
	}
	d, err := Compute([]string{"Address"}, old, latest, false)
	if err != nil {
		t.Fatalf("Compute failed: %s", err)
	}
	if len(d.Updated) != len(latest) {
		t.Fatalf("got %d updated entities, want %d", len(d.Updated), len(latest))
	}
	if len(d.Created) != 1 || d.Created[0].Address != "0x3" {
		t.Fatalf("got created %v, want just 0x3", d.Created)
	}
	if len(d.Deleted) != 1 || d.Deleted[0].Address != "0x2" {
		t.Fatalf("got deleted %v, want just 0x2", d.Deleted)
	}
}

func TestComputeIgnoresTimestamps(t *testing.T) {
	now := time.Now()
	old := []record{{Address: "0x1", Value: 1, Timestamps: model.Timestamps{
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}}}
	latest := []record{{Address: "0x1", Value: 1, Timestamps: model.Timestamps{
		CreatedAt: now,
		UpdatedAt: now,
	}}}
	d, err := Compute([]string{"Address"}, old, latest, true)
	if err != nil {
		t.Fatalf("Compute failed: %s", err)
	}
	if len(d.Created)+len(d.Updated)+len(d.Deleted) != 0 {
		t.Fatalf("got non-empty diff %v for timestamp-only changes", d)
	}
}

func TestComputeCompositeKeys(t *testing.T) {
	// The composite keys ("a", "bc") and ("ab", "c") must not collide.
	old := []record{{Address: "a", Name: "bc", Value: 1}}
	latest := []record{{Address: "ab", Name: "c", Value: 1}}
	d, err := Compute([]string{"Address", "Name"}, old, latest, true)
	if err != nil {
		t.Fatalf("Compute failed: %s", err)
	}
	if len(d.Created) != 1 || len(d.Deleted) != 1 {
		t.Fatalf("got diff %v, want one created and one deleted entity", d)
	}
}

func TestComputeNoDoubleBucketing(t *testing.T) {
	latest := []record{
		{Address: "0x1", Value: 1},
		{Address: "0x1", Value: 2},
	}
	d, err := Compute([]string{"Address"}, nil, latest, true)
	if err != nil {
		t.Fatalf("Compute failed: %s", err)
	}
	if len(d.Created) != 1 {
		t.Fatalf("got %d created entities, want 1", len(d.Created))
	}
	if len(d.Updated) != 0 {
		t.Fatalf("got %d updated entities for a fresh set, want 0", len(d.Updated))
	}
}

func TestComputeUnknownKeyField(t *testing.T) {
	_, err := Compute([]string{"Missing"}, nil, []record{{Address: "0x1"}}, true)
	if err == nil {
		t.Fatalf("expected an error for an unknown primary key field")
	}
}

func TestApply(t *testing.T) {
	pool := pond.NewPool(4)
	defer pool.StopAndWait()
	d := Diff[record]{
		Created: []record{{Address: "0x1"}, {Address: "0x2"}},
		Updated: []record{{Address: "0x3"}},
		Deleted: []record{{Address: "0x4"}},
	}
	mu := sync.Mutex{}
	calls := map[string]int{}
	count := func(op string) {
		mu.Lock()
		calls[op]++
		mu.Unlock()
	}
	err := Apply(context.Background(), pool, d, Ops[record]{
		Create: func(ctx context.Context, r record) error {
			count("create")
			return nil
		},
		Update: func(ctx context.Context, r record) error {
			count("update")
			return nil
		},
		Delete: func(ctx context.Context, r record) error {
			count("delete")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if calls["create"] != 2 || calls["update"] != 1 || calls["delete"] != 1 {
		t.Fatalf("got calls %v, want 2 creates, 1 update, 1 delete", calls)
	}
}

func TestApplyPropagatesErrors(t *testing.T) {
	pool := pond.NewPool(4)
	defer pool.StopAndWait()
	d := Diff[record]{
		Created: []record{{Address: "0x1"}, {Address: "0x2"}},
	}
	mu := sync.Mutex{}
	settled := 0
	err := Apply(context.Background(), pool, d, Ops[record]{
		Create: func(ctx context.Context, r record) error {
			mu.Lock()
			settled++
			mu.Unlock()
			if r.Address == "0x1" {
				return fmt.Errorf("boom")
			}
			return nil
		},
	})
	if err == nil {
		t.Fatalf("expected an error from Apply")
	}
	if settled != 2 {
		t.Fatalf("got %d settled callbacks, want 2", settled)
	}
}
