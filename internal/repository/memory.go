package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"flowops/internal/domain"
)

// Memory is an in-process Store with the same scope, condition and ordering
// rules as Client. It backs tests and the local development server.
type Memory struct {
	mu      sync.RWMutex
	items   map[Key]Item
	indexes map[string]Index
}

var _ Store = (*Memory)(nil)

func NewMemory(indexes ...Index) *Memory {
	return &Memory{items: make(map[Key]Item), indexes: indexMap(indexes)}
}

func (m *Memory) Get(_ context.Context, tenantID string, key Key) (Item, bool, error) {
	if err := checkScope(tenantID, key.PK); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(item), true, nil
}

func (m *Memory) Put(_ context.Context, tenantID string, item Item) error {
	if err := checkItemScope(tenantID, item, m.indexes); err != nil {
		return err
	}
	key := itemKey(item)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = maps.Clone(item)
	return nil
}

func (m *Memory) Insert(_ context.Context, tenantID string, item Item) error {
	if err := checkItemScope(tenantID, item, m.indexes); err != nil {
		return err
	}
	key := itemKey(item)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return errPrecondition("item_exists", fmt.Errorf("item %s/%s already exists", key.PK, key.SK))
	}
	m.items[key] = maps.Clone(item)
	return nil
}

func (m *Memory) Update(_ context.Context, tenantID string, key Key, u Update) (Item, error) {
	if err := checkScope(tenantID, key.PK); err != nil {
		return nil, err
	}
	if err := checkSetScope(tenantID, u, m.indexes); err != nil {
		return nil, err
	}
	if len(u.Set) == 0 && len(u.Append) == 0 {
		return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", errors.New("repository: update has no changes"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[key]
	if !ok {
		return nil, errNotFound(key)
	}
	for name, want := range u.Expect {
		av, err := attributevalue.Marshal(want)
		if err != nil {
			return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", err)
		}
		if !reflect.DeepEqual(current[name], av) {
			return nil, errPrecondition("expectation_mismatch", fmt.Errorf("attribute %q does not match", name))
		}
	}
	for name, v := range u.Exclude {
		if listHolds(current[name], v) {
			return nil, errPrecondition("expectation_mismatch", fmt.Errorf("attribute %q already holds %q", name, v))
		}
	}

	next := maps.Clone(current)
	for name, v := range u.Set {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", err)
		}
		next[name] = av
	}
	for name, vs := range u.Append {
		var list []types.AttributeValue
		if l, ok := next[name].(*types.AttributeValueMemberL); ok {
			list = append(list, l.Value...)
		} else if _, exists := next[name]; exists {
			return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", fmt.Errorf("attribute %q is not a list", name))
		}
		for _, v := range vs {
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", err)
			}
			list = append(list, av)
		}
		next[name] = &types.AttributeValueMemberL{Value: list}
	}
	m.items[key] = next
	return maps.Clone(next), nil
}

// QueryByIndex snapshots matching items when iteration starts.
func (m *Memory) QueryByIndex(_ context.Context, tenantID, index, indexKey string, r *Range) iter.Seq2[Item, error] {
	if err := checkScope(tenantID, indexKey); err != nil {
		return failed(err)
	}
	idx, ok := m.indexes[index]
	if !ok {
		return failed(domain.NewError(domain.ErrorInvalidPayload, "unknown_index", fmt.Errorf("index %q is not defined", index)))
	}

	return func(yield func(Item, error) bool) {
		type row struct {
			sort string
			sk   string
			item Item
		}
		m.mu.RLock()
		var rows []row
		for key, item := range m.items {
			pk, err := stringAttr(item, idx.PartitionAttr)
			if err != nil || pk != indexKey {
				continue
			}
			sk, err := stringAttr(item, idx.SortAttr)
			if err != nil || !inRange(sk, r) {
				continue
			}
			rows = append(rows, row{sort: sk, sk: key.SK, item: maps.Clone(item)})
		}
		m.mu.RUnlock()

		sort.Slice(rows, func(i, j int) bool {
			if rows[i].sort != rows[j].sort {
				return rows[i].sort < rows[j].sort
			}
			return rows[i].sk < rows[j].sk
		})
		for _, rw := range rows {
			if !yield(rw.item, nil) {
				return
			}
		}
	}
}

func inRange(v string, r *Range) bool {
	if r.empty() {
		return true
	}
	if r.Prefix != "" {
		return strings.HasPrefix(v, r.Prefix)
	}
	if r.From != "" && v < r.From {
		return false
	}
	if r.To != "" && v > r.To {
		return false
	}
	return true
}

func itemKey(item Item) Key {
	pk, _ := stringAttr(item, AttrPK)
	sk, _ := stringAttr(item, AttrSK)
	return Key{PK: pk, SK: sk}
}

func listHolds(av types.AttributeValue, v string) bool {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return false
	}
	for _, e := range l.Value {
		if s, ok := e.(*types.AttributeValueMemberS); ok && s.Value == v {
			return true
		}
	}
	return false
}
