package backend

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Backend for local development and tests.
// Documents are stored as decoded BSON maps and round-trip through the same
// codec as the MongoDB driver. Query returns documents in insertion order.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

type memCollection struct {
	docs  map[string]bson.M
	order []string
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]bson.M)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Create(ctx context.Context, collection string, doc any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("insert", err)
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	var stored bson.M
	if err := bson.Unmarshal(raw, &stored); err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}

	var id string
	switch v := stored["_id"].(type) {
	case string:
		id = v
	case primitive.ObjectID:
		id = v.Hex()
	}
	if id == "" {
		oid := primitive.NewObjectID()
		stored["_id"] = oid
		id = oid.Hex()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("duplicate id %s in %s", id, collection)
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return id, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("find", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection).docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return bson.Marshal(doc)
}

func (m *Memory) Update(ctx context.Context, collection, id string, set Fields) error {
	if err := ctx.Err(); err != nil {
		return unavailable("update", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection).docs[id]
	if !ok {
		return ErrNotFound
	}
	return apply(doc, Mutation{Set: set})
}

func (m *Memory) Apply(ctx context.Context, collection, id string, guard Filter, mut Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("update", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection).docs[id]
	if !ok {
		return false, nil
	}
	matched, err := matches(doc, guard)
	if err != nil || !matched {
		return false, err
	}
	if err := apply(doc, mut); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Count(ctx context.Context, collection string, f Filter) (int64, error) {
	docs, err := m.Query(ctx, collection, f)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (m *Memory) Query(ctx context.Context, collection string, f Filter) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("find", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	var docs []bson.Raw
	for _, id := range c.order {
		doc := c.docs[id]
		ok, err := matches(doc, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

func apply(doc bson.M, mut Mutation) error {
	for field, value := range mut.Set {
		v, err := canonical(value)
		if err != nil {
			return err
		}
		doc[field] = v
	}

	for field, delta := range mut.Inc {
		current, ok := toInt64(doc[field])
		if !ok && doc[field] != nil {
			return fmt.Errorf("cannot increment non-numeric field %s", field)
		}
		doc[field] = current + int64(delta)
	}

	for field, value := range mut.AddToSet {
		v, err := canonical(value)
		if err != nil {
			return err
		}
		var arr bson.A
		switch existing := doc[field].(type) {
		case nil:
		case bson.A:
			arr = existing
		default:
			return fmt.Errorf("cannot add to non-array field %s", field)
		}
		if !containsValue(arr, v) {
			arr = append(arr, v)
		}
		doc[field] = arr
	}
	return nil
}

func matches(doc bson.M, f Filter) (bool, error) {
	for _, c := range f {
		want, err := canonical(c.Value)
		if err != nil {
			return false, err
		}

		var equal bool
		if arr, ok := doc[c.Field].(bson.A); ok {
			equal = containsValue(arr, want)
		} else {
			equal = sameValue(doc[c.Field], want)
		}

		switch c.Op {
		case OpEq:
			if !equal {
				return false, nil
			}
		case OpNe:
			if equal {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %s", c.Op)
		}
	}
	return true, nil
}

// canonical converts a Go value into the form it takes after a BSON round
// trip, so named string types compare equal to decoded strings.
func canonical(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out["v"], nil
}

func containsValue(arr bson.A, v any) bool {
	for _, item := range arr {
		if sameValue(item, v) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	if x, ok := toInt64(a); ok {
		if y, ok := toInt64(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
