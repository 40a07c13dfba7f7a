// Package diff reconciles sets of stored entities against freshly derived
// ones.
package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
)

// Diff partitions a new set of entities relative to an old one.
type Diff[E any] struct {
	Created []E
	Updated []E
	Deleted []E
}

// Ops holds the callbacks used to apply a Diff against a store.
type Ops[E any] struct {
	Create func(context.Context, E) error
	Update func(context.Context, E) error
	Delete func(context.Context, E) error
}

// Compute returns the diff between the old and new entity sets.
//
// Entities are matched by the given primary key field names, with composite
// keys supported. An entity only present in the new set is created, one only
// present in the old set is deleted. With deepCompare unset, every entity in
// the new set is treated as updated. With deepCompare set, only entities
// present in both sets whose contents differ are treated as updated, where
// the store-managed createdAt/updatedAt fields are ignored when comparing.
// Each entity appears at most once per bucket.
func Compute[E any](primaryKey []string, old []E, latest []E, deepCompare bool) (Diff[E], error) {
	d := Diff[E]{}
	if len(primaryKey) == 0 {
		return d, fmt.Errorf("diff: no primary key fields given")
	}
	oldByKey := map[string]E{}
	for _, entity := range old {
		key, err := keyOf(entity, primaryKey)
		if err != nil {
			return d, err
		}
		oldByKey[key] = entity
	}
	seen := map[string]bool{}
	for _, entity := range latest {
		key, err := keyOf(entity, primaryKey)
		if err != nil {
			return d, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		prev, exists := oldByKey[key]
		if !exists {
			d.Created = append(d.Created, entity)
		}
		if !deepCompare {
			d.Updated = append(d.Updated, entity)
			continue
		}
		if !exists {
			continue
		}
		equal, err := deepEqual(prev, entity)
		if err != nil {
			return d, err
		}
		if !equal {
			d.Updated = append(d.Updated, entity)
		}
	}
	for _, entity := range old {
		key, err := keyOf(entity, primaryKey)
		if err != nil {
			return d, err
		}
		if !seen[key] {
			d.Deleted = append(d.Deleted, entity)
		}
	}
	return d, nil
}

// Apply runs the given callbacks for each entity in the diff through the
// given worker pool. All callbacks settle before Apply returns the first
// error encountered. Callers that want per-entity error isolation handle
// errors within the callbacks themselves.
func Apply[E any](ctx context.Context, pool pond.Pool, d Diff[E], ops Ops[E]) error {
	mu := sync.Mutex{}
	var first error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	}
	group := pool.NewGroup()
	submit := func(op func(context.Context, E) error, entity E) {
		group.Submit(func() {
			record(op(ctx, entity))
		})
	}
	for _, entity := range d.Created {
		submit(ops.Create, entity)
	}
	for _, entity := range d.Updated {
		submit(ops.Update, entity)
	}
	for _, entity := range d.Deleted {
		submit(ops.Delete, entity)
	}
	group.Wait()
	return first
}

func deepEqual(a interface{}, b interface{}) (bool, error) {
	std, err := normalize(a)
	if err != nil {
		return false, err
	}
	cur, err := normalize(b)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(std, cur), nil
}

// normalize round-trips an entity through JSON and drops the store-managed
// timestamp fields.
func normalize(entity interface{}) (map[string]interface{}, error) {
	enc, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("diff: failed to encode entity for comparison: %s", err)
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(enc, &fields); err != nil {
		return nil, fmt.Errorf("diff: failed to decode entity for comparison: %s", err)
	}
	delete(fields, "createdAt")
	delete(fields, "updatedAt")
	return fields, nil
}

func keyOf(entity interface{}, primaryKey []string) (string, error) {
	val := reflect.ValueOf(entity)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return "", fmt.Errorf("diff: nil entity")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return "", fmt.Errorf("diff: unsupported entity type %T", entity)
	}
	parts := make([]string, len(primaryKey))
	for i, name := range primaryKey {
		field := val.FieldByName(name)
		if !field.IsValid() {
			return "", fmt.Errorf("diff: unknown primary key field %q on %T", name, entity)
		}
		parts[i] = fmt.Sprintf("%v", field.Interface())
	}
	return strings.Join(parts, "\x1e"), nil
}
