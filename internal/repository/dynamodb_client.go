package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"flowops/internal/domain"
)

const insertCondition = "attribute_not_exists(PK) AND attribute_not_exists(SK)"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client is the DynamoDB-backed Store for one table.
type Client struct {
	api       dynamodbAPI
	tableName string
	indexes   map[string]Index
}

var _ Store = (*Client)(nil)

// New creates a Client for tableName. indexes lists the table's secondary
// indexes; the base table is always available as PrimaryIndex.
func New(api dynamodbAPI, tableName string, indexes ...Index) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	for _, idx := range indexes {
		if idx.Name == "" || idx.PartitionAttr == "" || idx.SortAttr == "" {
			return nil, fmt.Errorf("repository: index %q is incomplete", idx.Name)
		}
	}
	return &Client{api: api, tableName: tableName, indexes: indexMap(indexes)}, nil
}

// Get reads one item with a consistent read. A missing item is reported as
// found=false, not as an error.
func (c *Client) Get(ctx context.Context, tenantID string, key Key) (Item, bool, error) {
	if err := checkScope(tenantID, key.PK); err != nil {
		return nil, false, err
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}
	return out.Item, true, nil
}

// Put writes a complete item, replacing any existing one.
func (c *Client) Put(ctx context.Context, tenantID string, item Item) error {
	if err := checkItemScope(tenantID, item, c.indexes); err != nil {
		return err
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// Insert writes a complete item only if no item exists at its key.
func (c *Client) Insert(ctx context.Context, tenantID string, item Item) error {
	if err := checkItemScope(tenantID, item, c.indexes); err != nil {
		return err
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(insertCondition),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return errPrecondition("item_exists", err)
		}
		return fmt.Errorf("repository: Insert: %w", err)
	}
	return nil
}

// Update applies u to an existing item and returns the item as written.
func (c *Client) Update(ctx context.Context, tenantID string, key Key, u Update) (Item, error) {
	if err := checkScope(tenantID, key.PK); err != nil {
		return nil, err
	}
	if err := c.checkUpdateScope(tenantID, u); err != nil {
		return nil, err
	}
	expr, err := buildUpdate(u)
	if err != nil {
		return nil, domain.NewError(domain.ErrorInvalidPayload, "bad_update", err)
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(c.tableName),
		Key:                                 keyAttrs(key),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, errNotFound(key)
			}
			return nil, errPrecondition("expectation_mismatch", err)
		}
		return nil, fmt.Errorf("repository: Update: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	return out.Attributes, nil
}

// checkUpdateScope stops an update from moving an item into another
// tenant's index partition.
func (c *Client) checkUpdateScope(tenantID string, u Update) error {
	return checkSetScope(tenantID, u, c.indexes)
}

func checkSetScope(tenantID string, u Update, indexes map[string]Index) error {
	for name, v := range u.Set {
		if name == AttrPK || name == AttrSK {
			return domain.NewError(domain.ErrorInvalidPayload, "key_attribute_update", fmt.Errorf("cannot update %s", name))
		}
		for _, idx := range indexes {
			if idx.Name == PrimaryIndex || idx.PartitionAttr != name {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return domain.NewError(domain.ErrorInvalidPayload, "bad_index_key", fmt.Errorf("%s must be a string", name))
			}
			if err := checkScope(tenantID, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// QueryByIndex returns the items under indexKey in ascending sort-key order.
// Pages are fetched lazily; ranging over the sequence again re-runs the query.
func (c *Client) QueryByIndex(ctx context.Context, tenantID, index, indexKey string, r *Range) iter.Seq2[Item, error] {
	if err := checkScope(tenantID, indexKey); err != nil {
		return failed(err)
	}
	idx, ok := c.indexes[index]
	if !ok {
		return failed(domain.NewError(domain.ErrorInvalidPayload, "unknown_index", fmt.Errorf("index %q is not defined on %s", index, c.tableName)))
	}

	keyCond := expression.Key(idx.PartitionAttr).Equal(expression.Value(indexKey))
	if !r.empty() {
		keyCond = keyCond.And(sortCondition(idx.SortAttr, r))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return failed(fmt.Errorf("repository: QueryByIndex build: %w", err))
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if index != PrimaryIndex {
		in.IndexName = aws.String(index)
	} else {
		in.ConsistentRead = aws.Bool(true)
	}

	return func(yield func(Item, error) bool) {
		pages := dynamodb.NewQueryPaginator(c.api, in)
		for pages.HasMorePages() {
			out, err := pages.NextPage(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("repository: QueryByIndex %q: %w", index, err))
				return
			}
			for _, item := range out.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

func sortCondition(attr string, r *Range) expression.KeyConditionBuilder {
	sk := expression.Key(attr)
	switch {
	case r.Prefix != "":
		return sk.BeginsWith(r.Prefix)
	case r.From != "" && r.To != "":
		return sk.Between(expression.Value(r.From), expression.Value(r.To))
	case r.From != "":
		return sk.GreaterThanEqual(expression.Value(r.From))
	default:
		return sk.LessThanEqual(expression.Value(r.To))
	}
}

// buildUpdate renders u as update and condition expressions. The condition
// always requires the item to exist so Update never creates items.
func buildUpdate(u Update) (expression.Expression, error) {
	if len(u.Set) == 0 && len(u.Append) == 0 {
		return expression.Expression{}, errors.New("repository: update has no changes")
	}
	var ub expression.UpdateBuilder
	for _, name := range sortedKeys(u.Set) {
		ub = ub.Set(expression.Name(name), expression.Value(u.Set[name]))
	}
	for _, name := range sortedKeys(u.Append) {
		existing := expression.IfNotExists(expression.Name(name), expression.Value([]any{}))
		ub = ub.Set(expression.Name(name), expression.ListAppend(existing, expression.Value(u.Append[name])))
	}

	cond := expression.AttributeExists(expression.Name(AttrPK))
	for _, name := range sortedKeys(u.Expect) {
		cond = cond.And(expression.Name(name).Equal(expression.Value(u.Expect[name])))
	}
	for _, name := range sortedKeys(u.Exclude) {
		cond = cond.And(expression.Not(expression.Name(name).Contains(u.Exclude[name])))
	}
	return expression.NewBuilder().WithUpdate(ub).WithCondition(cond).Build()
}

func keyAttrs(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
