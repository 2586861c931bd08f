package repository

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"flowops/internal/domain"
	"flowops/internal/keys"
)

const (
	AttrPK = "PK"
	AttrSK = "SK"

	// PrimaryIndex selects the base table in QueryByIndex.
	PrimaryIndex = ""
)

// Item is a raw table item.
type Item = map[string]types.AttributeValue

// Key addresses one item in the base table.
type Key struct {
	PK string
	SK string
}

// Update is a partial update of an existing item. Set overwrites named
// attributes and Append extends list attributes. Expect and Exclude are
// preconditions checked atomically with the write: Expect names attributes
// that must equal a value, Exclude names string lists that must not already
// hold a value.
type Update struct {
	Set     map[string]any
	Append  map[string][]any
	Expect  map[string]any
	Exclude map[string]string
}

// Range narrows a query on the index sort key. Prefix wins over From/To.
type Range struct {
	Prefix string
	From   string
	To     string
}

func (r *Range) empty() bool {
	return r == nil || (r.Prefix == "" && r.From == "" && r.To == "")
}

// Index describes a secondary index by the attributes it is keyed on.
type Index struct {
	Name          string
	PartitionAttr string
	SortAttr      string
}

// Store is the single access path to persisted state. Every operation is
// scoped to a tenant and rejects keys outside that tenant's key space.
type Store interface {
	Get(ctx context.Context, tenantID string, key Key) (Item, bool, error)
	Put(ctx context.Context, tenantID string, item Item) error
	Insert(ctx context.Context, tenantID string, item Item) error
	Update(ctx context.Context, tenantID string, key Key, u Update) (Item, error)
	QueryByIndex(ctx context.Context, tenantID, index, indexKey string, r *Range) iter.Seq2[Item, error]
}

func primaryIndex() Index {
	return Index{Name: PrimaryIndex, PartitionAttr: AttrPK, SortAttr: AttrSK}
}

func indexMap(indexes []Index) map[string]Index {
	m := map[string]Index{PrimaryIndex: primaryIndex()}
	for _, idx := range indexes {
		m[idx.Name] = idx
	}
	return m
}

// checkScope enforces the tenant boundary on a partition or index key.
func checkScope(tenantID, key string) error {
	if tenantID == "" {
		return domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	if err := keys.ValidateID(tenantID); err != nil {
		return domain.NewError(domain.ErrorTenantScope, "invalid_tenant_id", err)
	}
	if !keys.InTenant(tenantID, key) {
		return domain.NewError(domain.ErrorTenantScope, "key_outside_tenant",
			fmt.Errorf("key %q is not owned by tenant %q", key, tenantID))
	}
	return nil
}

// checkItemScope verifies the item's partition key and every index
// partition attribute it carries.
func checkItemScope(tenantID string, item Item, indexes map[string]Index) error {
	pk, err := stringAttr(item, AttrPK)
	if err != nil {
		return domain.NewError(domain.ErrorInvalidPayload, "missing_partition_key", err)
	}
	if _, err := stringAttr(item, AttrSK); err != nil {
		return domain.NewError(domain.ErrorInvalidPayload, "missing_sort_key", err)
	}
	if err := checkScope(tenantID, pk); err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx.Name == PrimaryIndex {
			continue
		}
		if _, ok := item[idx.PartitionAttr]; !ok {
			continue
		}
		v, err := stringAttr(item, idx.PartitionAttr)
		if err != nil {
			return domain.NewError(domain.ErrorInvalidPayload, "bad_index_key", err)
		}
		if err := checkScope(tenantID, v); err != nil {
			return err
		}
	}
	return nil
}

func stringAttr(item Item, name string) (string, error) {
	v, ok := item[name]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", name)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", name)
	}
	return s.Value, nil
}

func errNotFound(key Key) error {
	return domain.NewError(domain.ErrorNotFound, "item_not_found", fmt.Errorf("no item at %s/%s", key.PK, key.SK))
}

func errPrecondition(reason string, err error) error {
	return domain.NewError(domain.ErrorPreconditionFailed, reason, err)
}

func failed(err error) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		yield(nil, err)
	}
}
