package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"flowops/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	updateOut    *dynamodb.UpdateItemOutput
	updateErr    error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	queryCalls   int
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, f.updateErr
	}
	return f.updateOut, f.updateErr
}

// Query serves queryPages in order, chaining them with LastEvaluatedKey.
func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	page := 0
	if in.ExclusiveStartKey != nil {
		page = int(in.ExclusiveStartKey["page"].(*types.AttributeValueMemberN).Value[0] - '0')
	}
	f.queryCalls++
	if page >= len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := *f.queryPages[page]
	if page+1 < len(f.queryPages) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"page": &types.AttributeValueMemberN{Value: string(rune('0' + page + 1))},
		}
	}
	return &out, nil
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func makeItem(pk, sk string) Item {
	return Item{AttrPK: s(pk), AttrSK: s(sk)}
}

func ticketIndexes() []Index {
	return []Index{
		{Name: "GSI1", PartitionAttr: "GSI1PK", SortAttr: "GSI1SK"},
		{Name: "GSI2", PartitionAttr: "GSI2PK", SortAttr: "GSI2SK"},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", ticketIndexes()...)
	require.NoError(t, err)
	return c
}

func requireCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, domain.CodeOf(err), "err=%v", err)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestNew_IncompleteIndex(t *testing.T) {
	_, err := New(&fakeDynamo{}, "t", Index{Name: "GSI1", PartitionAttr: "GSI1PK"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "incomplete")
}

func TestGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeItem("TENANT#a", "TICKET#1")}}
	c := mustNewClient(t, db)

	item, found, err := c.Get(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, s("TICKET#1"), item[AttrSK])
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "test-table", *db.lastGetInput.TableName)
}

func TestGet_MissingIsNotAnError(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, found, err := c.Get(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestGet_APIError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)

	_, _, err := c.Get(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "repository: Get")
	require.Equal(t, domain.ErrorInternal, domain.CodeOf(err))
}

func TestScope_RejectedBeforeAnyCall(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ctx := context.Background()

	_, _, err := c.Get(ctx, "a", Key{PK: "TENANT#b", SK: "TICKET#1"})
	requireCode(t, err, domain.ErrorTenantScope)

	_, _, err = c.Get(ctx, "a", Key{PK: "TENANT#ab", SK: "TICKET#1"})
	requireCode(t, err, domain.ErrorTenantScope)

	err = c.Put(ctx, "a", makeItem("TENANT#b", "TICKET#1"))
	requireCode(t, err, domain.ErrorTenantScope)

	_, err = c.Update(ctx, "a", Key{PK: "TENANT#b", SK: "TICKET#1"}, Update{Set: map[string]any{"status": "open"}})
	requireCode(t, err, domain.ErrorTenantScope)

	for _, qerr := range c.QueryByIndex(ctx, "a", "GSI1", "TENANT#b#STATUS#open", nil) {
		requireCode(t, qerr, domain.ErrorTenantScope)
	}

	_, _, err = c.Get(ctx, "", Key{PK: "TENANT#", SK: "TICKET#1"})
	requireCode(t, err, domain.ErrorMissingTenant)

	require.Nil(t, db.lastGetInput)
	require.Nil(t, db.lastPutInput)
	require.Nil(t, db.lastUpdateIn)
	require.Empty(t, db.queryInputs)
}

func TestPut_RejectsForeignIndexKey(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	item := makeItem("TENANT#a", "TICKET#1")
	item["GSI1PK"] = s("TENANT#b#STATUS#open")
	err := c.Put(context.Background(), "a", item)
	requireCode(t, err, domain.ErrorTenantScope)
	require.Nil(t, db.lastPutInput)
}

func TestPut_RequiresKeys(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.Put(context.Background(), "a", Item{AttrSK: s("TICKET#1")})
	requireCode(t, err, domain.ErrorInvalidPayload)

	err = c.Put(context.Background(), "a", Item{AttrPK: s("TENANT#a")})
	requireCode(t, err, domain.ErrorInvalidPayload)
}

func TestPut_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Put(context.Background(), "a", makeItem("TENANT#a", "TICKET#1")))
	require.Nil(t, db.lastPutInput.ConditionExpression)
}

func TestInsert_Conditional(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Insert(context.Background(), "a", makeItem("TENANT#a", "TICKET#1")))
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestInsert_ExistingItem(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: stringPtr("exists")}}
	c := mustNewClient(t, db)

	err := c.Insert(context.Background(), "a", makeItem("TENANT#a", "TICKET#1"))
	requireCode(t, err, domain.ErrorPreconditionFailed)
}

func TestUpdate_BuildsConditionalExpression(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: makeItem("TENANT#a", "TICKET#1")}}
	c := mustNewClient(t, db)

	item, err := c.Update(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"}, Update{
		Set:    map[string]any{"status": "escalated", "slaRisk": true},
		Append: map[string][]any{"conversationIds": {"c-1"}},
		Expect: map[string]any{"status": "open"},
	})
	require.NoError(t, err)
	require.NotNil(t, item)

	in := db.lastUpdateIn
	require.Contains(t, *in.UpdateExpression, "SET")
	require.Contains(t, *in.UpdateExpression, "list_append")
	require.Contains(t, *in.UpdateExpression, "if_not_exists")
	require.Contains(t, *in.ConditionExpression, "attribute_exists")
	require.Contains(t, in.ExpressionAttributeNames, "#0")
	require.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	require.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, in.ReturnValuesOnConditionCheckFailure)

	var names []string
	for _, n := range in.ExpressionAttributeNames {
		names = append(names, n)
	}
	require.Subset(t, names, []string{"PK", "status", "slaRisk", "conversationIds"})
}

func TestUpdate_ExcludeRendersNotContains(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: makeItem("TENANT#a", "TICKET#1")}}
	c := mustNewClient(t, db)

	_, err := c.Update(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"}, Update{
		Append:  map[string][]any{"conversationIds": {"c-1"}},
		Exclude: map[string]string{"conversationIds": "c-1"},
	})
	require.NoError(t, err)
	cond := *db.lastUpdateIn.ConditionExpression
	require.Contains(t, cond, "NOT")
	require.Contains(t, cond, "contains (")
}

func TestUpdate_ConditionFailureOnExistingItem(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{
		Message: stringPtr("stale"),
		Item:    makeItem("TENANT#a", "TICKET#1"),
	}}
	c := mustNewClient(t, db)

	_, err := c.Update(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"}, Update{
		Set:    map[string]any{"status": "in_progress"},
		Expect: map[string]any{"status": "open"},
	})
	requireCode(t, err, domain.ErrorPreconditionFailed)
}

func TestUpdate_ConditionFailureOnMissingItem(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: stringPtr("missing")}}
	c := mustNewClient(t, db)

	_, err := c.Update(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"}, Update{
		Set: map[string]any{"status": "in_progress"},
	})
	requireCode(t, err, domain.ErrorNotFound)
}

func TestUpdate_RejectsEmptyAndKeyChanges(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	key := Key{PK: "TENANT#a", SK: "TICKET#1"}

	_, err := c.Update(context.Background(), "a", key, Update{})
	requireCode(t, err, domain.ErrorInvalidPayload)

	_, err = c.Update(context.Background(), "a", key, Update{Set: map[string]any{"PK": "TENANT#b"}})
	requireCode(t, err, domain.ErrorInvalidPayload)

	_, err = c.Update(context.Background(), "a", key, Update{Set: map[string]any{"GSI1PK": "TENANT#b#STATUS#open"}})
	requireCode(t, err, domain.ErrorTenantScope)
	require.Nil(t, db.lastUpdateIn)
}

func TestUpdate_APIError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("throttled")}
	c := mustNewClient(t, db)

	_, err := c.Update(context.Background(), "a", Key{PK: "TENANT#a", SK: "TICKET#1"}, Update{Set: map[string]any{"x": 1}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "repository: Update")
}

func TestQueryByIndex_PaginatesLazilyInOrder(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []Item{makeItem("TENANT#a", "TICKET#1"), makeItem("TENANT#a", "TICKET#2")}},
		{Items: []Item{makeItem("TENANT#a", "TICKET#3")}},
	}}
	c := mustNewClient(t, db)

	seq := c.QueryByIndex(context.Background(), "a", "GSI1", "TENANT#a#STATUS#open", &Range{Prefix: "CREATED#"})
	require.Empty(t, db.queryInputs, "query must not run before iteration")

	var sks []string
	for item, err := range seq {
		require.NoError(t, err)
		sks = append(sks, item[AttrSK].(*types.AttributeValueMemberS).Value)
	}
	require.Equal(t, []string{"TICKET#1", "TICKET#2", "TICKET#3"}, sks)

	in := db.queryInputs[0]
	require.Equal(t, "GSI1", *in.IndexName)
	require.True(t, *in.ScanIndexForward)
	require.Contains(t, *in.KeyConditionExpression, "begins_with")
}

func TestQueryByIndex_Restartable(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []Item{makeItem("TENANT#a", "TICKET#1")}},
	}}
	c := mustNewClient(t, db)
	seq := c.QueryByIndex(context.Background(), "a", PrimaryIndex, "TENANT#a", nil)

	for range 2 {
		items, err := Collect(seq, func(i Item) (Item, error) { return i, nil })
		require.NoError(t, err)
		require.Len(t, items, 1)
	}
	require.Equal(t, 2, db.queryCalls)
	require.Nil(t, db.queryInputs[0].IndexName)
	require.True(t, *db.queryInputs[0].ConsistentRead)
}

func TestQueryByIndex_StopsEarly(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []Item{makeItem("TENANT#a", "TICKET#1"), makeItem("TENANT#a", "TICKET#2")}},
		{Items: []Item{makeItem("TENANT#a", "TICKET#3")}},
	}}
	c := mustNewClient(t, db)

	for range c.QueryByIndex(context.Background(), "a", "GSI2", "TENANT#a", nil) {
		break
	}
	require.Equal(t, 1, db.queryCalls)
}

func TestQueryByIndex_Errors(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)

	_, err := Collect(c.QueryByIndex(context.Background(), "a", "GSI1", "TENANT#a#STATUS#open", nil), func(i Item) (Item, error) { return i, nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "QueryByIndex")

	_, err = Collect(c.QueryByIndex(context.Background(), "a", "GSI9", "TENANT#a", nil), func(i Item) (Item, error) { return i, nil })
	requireCode(t, err, domain.ErrorInvalidPayload)
}

func TestSortCondition_Between(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{}}}
	c := mustNewClient(t, db)

	for range c.QueryByIndex(context.Background(), "a", "GSI2", "TENANT#a", &Range{From: "UPDATED#2026-01", To: "UPDATED#2026-02"}) {
	}
	require.Contains(t, *db.queryInputs[0].KeyConditionExpression, "BETWEEN")
}

func stringPtr(v string) *string { return &v }
