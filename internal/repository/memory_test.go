package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"flowops/internal/domain"
	"flowops/internal/keys"
)

type record struct {
	Status string   `dynamodbav:"status"`
	Owner  string   `dynamodbav:"owner"`
	Tags   []string `dynamodbav:"tags"`
	GSI1PK string   `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK string   `dynamodbav:"GSI1SK,omitempty"`
}

func mustItem(t *testing.T, tenant, entity string, r record) Item {
	t.Helper()
	item, err := MarshalItem(Key{PK: keys.Tenant(tenant), SK: keys.Ticket(entity)}, r)
	require.NoError(t, err)
	return item
}

func decodeRecord(item Item) (record, error) {
	var r record
	err := UnmarshalItem(item, &r)
	return r, err
}

func TestMemory_TenantIsolation(t *testing.T) {
	m := NewMemory(ticketIndexes()...)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "b", mustItem(t, "b", "E1", record{Owner: "b"})))

	_, found, err := m.Get(ctx, "a", Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")})
	require.NoError(t, err)
	require.False(t, found, "tenant a must not see tenant b's entity with the same id")

	_, _, err = m.Get(ctx, "a", Key{PK: keys.Tenant("b"), SK: keys.Ticket("E1")})
	requireCode(t, err, domain.ErrorTenantScope)

	require.NoError(t, m.Put(ctx, "a", mustItem(t, "a", "E1", record{Owner: "a"})))
	item, found, err := m.Get(ctx, "a", Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")})
	require.NoError(t, err)
	require.True(t, found)
	r, err := decodeRecord(item)
	require.NoError(t, err)
	require.Equal(t, "a", r.Owner)

	item, _, err = m.Get(ctx, "b", Key{PK: keys.Tenant("b"), SK: keys.Ticket("E1")})
	require.NoError(t, err)
	r, err = decodeRecord(item)
	require.NoError(t, err)
	require.Equal(t, "b", r.Owner)
}

func TestMemory_PrefixTenantCannotReachLongerTenant(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "ab", mustItem(t, "ab", "E1", record{})))

	_, _, err := m.Get(ctx, "a", Key{PK: keys.Tenant("ab"), SK: keys.Ticket("E1")})
	requireCode(t, err, domain.ErrorTenantScope)

	_, _, err = m.Get(ctx, "a#b", Key{PK: "TENANT#a#b", SK: keys.Ticket("E1")})
	requireCode(t, err, domain.ErrorTenantScope)
}

func TestMemory_InsertIsWriteOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "a", mustItem(t, "a", "E1", record{Status: "first"})))

	err := m.Insert(ctx, "a", mustItem(t, "a", "E1", record{Status: "second"}))
	requireCode(t, err, domain.ErrorPreconditionFailed)

	item, _, err := m.Get(ctx, "a", Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")})
	require.NoError(t, err)
	r, err := decodeRecord(item)
	require.NoError(t, err)
	require.Equal(t, "first", r.Status)
}

func TestMemory_UpdateSetAppendExpect(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")}
	require.NoError(t, m.Put(ctx, "a", mustItem(t, "a", "E1", record{Status: "open", Tags: []string{"x"}})))

	item, err := m.Update(ctx, "a", key, Update{
		Set:    map[string]any{"status": "in_progress"},
		Append: map[string][]any{"tags": {"y", "z"}},
		Expect: map[string]any{"status": "open"},
	})
	require.NoError(t, err)
	r, err := decodeRecord(item)
	require.NoError(t, err)
	require.Equal(t, "in_progress", r.Status)
	require.Equal(t, []string{"x", "y", "z"}, r.Tags)

	_, err = m.Update(ctx, "a", key, Update{
		Set:    map[string]any{"status": "escalated"},
		Expect: map[string]any{"status": "open"},
	})
	requireCode(t, err, domain.ErrorPreconditionFailed)

	_, err = m.Update(ctx, "a", Key{PK: keys.Tenant("a"), SK: keys.Ticket("missing")}, Update{Set: map[string]any{"status": "x"}})
	requireCode(t, err, domain.ErrorNotFound)
}

func TestMemory_AppendCreatesList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")}
	require.NoError(t, m.Put(ctx, "a", Item{AttrPK: s(key.PK), AttrSK: s(key.SK)}))

	item, err := m.Update(ctx, "a", key, Update{Append: map[string][]any{"tags": {"x"}}})
	require.NoError(t, err)
	require.Len(t, item["tags"].(*types.AttributeValueMemberL).Value, 1)
}

func TestMemory_ExcludeGuardsDuplicateAppend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")}
	require.NoError(t, m.Put(ctx, "a", mustItem(t, "a", "E1", record{Status: "open"})))

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, "a", key, Update{
				Append:  map[string][]any{"tags": {"c-1"}},
				Exclude: map[string]string{"tags": "c-1"},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		requireCode(t, err, domain.ErrorPreconditionFailed)
	}
	require.Equal(t, 1, wins)

	item, found, err := m.Get(ctx, "a", key)
	require.NoError(t, err)
	require.True(t, found)
	r, err := decodeRecord(item)
	require.NoError(t, err)
	require.Equal(t, []string{"c-1"}, r.Tags)
}

func TestMemory_ConcurrentCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: keys.Tenant("a"), SK: keys.Ticket("E1")}
	require.NoError(t, m.Put(ctx, "a", mustItem(t, "a", "E1", record{Status: "open"})))

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Update(ctx, "a", key, Update{
				Set:    map[string]any{"status": "taken", "owner": string(rune('a' + i))},
				Expect: map[string]any{"status": "open"},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		requireCode(t, err, domain.ErrorPreconditionFailed)
	}
	require.Equal(t, 1, wins)
}

func TestMemory_QueryByIndexOrderAndRange(t *testing.T) {
	m := NewMemory(ticketIndexes()...)
	ctx := context.Background()
	put := func(tenant, id, gsiSK string) {
		require.NoError(t, m.Put(ctx, tenant, mustItem(t, tenant, id, record{
			GSI1PK: keys.TicketStatus(tenant, "open"),
			GSI1SK: gsiSK,
		})))
	}
	put("a", "3", "CREATED#2026-01-03")
	put("a", "1", "CREATED#2026-01-01")
	put("a", "2", "CREATED#2026-01-02")
	put("b", "9", "CREATED#2026-01-01")
	require.NoError(t, m.Put(ctx, "a", mustItem(t, "a", "sparse", record{})))

	seq := m.QueryByIndex(ctx, "a", "GSI1", keys.TicketStatus("a", "open"), nil)
	items, err := Collect(seq, func(i Item) (string, error) { return i[AttrSK].(*types.AttributeValueMemberS).Value, nil })
	require.NoError(t, err)
	require.Equal(t, []string{"TICKET#1", "TICKET#2", "TICKET#3"}, items)

	seq = m.QueryByIndex(ctx, "a", "GSI1", keys.TicketStatus("a", "open"), &Range{From: "CREATED#2026-01-02"})
	items, err = Collect(seq, func(i Item) (string, error) { return i[AttrSK].(*types.AttributeValueMemberS).Value, nil })
	require.NoError(t, err)
	require.Equal(t, []string{"TICKET#2", "TICKET#3"}, items)

	_, err = Collect(m.QueryByIndex(ctx, "a", "GSI1", keys.TicketStatus("b", "open"), nil), func(i Item) (Item, error) { return i, nil })
	requireCode(t, err, domain.ErrorTenantScope)
}

func TestMemory_QueryBaseTableByPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, sk := range []string{"CONV#c1", "CONV#c1#MSG#2", "CONV#c1#MSG#1", "CONV#c10#MSG#1"} {
		require.NoError(t, m.Put(ctx, "a", Item{AttrPK: s(keys.Tenant("a")), AttrSK: s(sk)}))
	}
	seq := m.QueryByIndex(ctx, "a", PrimaryIndex, keys.Tenant("a"), &Range{Prefix: keys.ConversationMessages("c1")})
	got, err := Collect(seq, func(i Item) (string, error) { return i[AttrSK].(*types.AttributeValueMemberS).Value, nil })
	require.NoError(t, err)
	require.Equal(t, []string{"CONV#c1#MSG#1", "CONV#c1#MSG#2"}, got)
}
