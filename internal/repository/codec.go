package repository

import (
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MarshalItem renders a record struct (dynamodbav tags) as an item and
// stamps the key attributes onto it.
func MarshalItem(key Key, record any) (Item, error) {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal item: %w", err)
	}
	item[AttrPK] = &types.AttributeValueMemberS{Value: key.PK}
	item[AttrSK] = &types.AttributeValueMemberS{Value: key.SK}
	return item, nil
}

// UnmarshalItem decodes item into the record struct pointed to by out.
func UnmarshalItem(item Item, out any) error {
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("repository: unmarshal item: %w", err)
	}
	return nil
}

// Collect drains a query sequence, decoding every item.
func Collect[T any](seq iter.Seq2[Item, error], decode func(Item) (T, error)) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		v, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
