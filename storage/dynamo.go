package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoBackend stores values in a DynamoDB table with a single string
// partition key "pk" and a binary attribute "val".
type DynamoBackend struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoBackend loads the default AWS config (environment, shared
// config file, or instance role, in that order) and returns a backend
// bound to table.
func NewDynamoBackend(ctx context.Context, table string, optFns ...func(*awscfg.LoadOptions) error) (*DynamoBackend, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return &DynamoBackend{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// Get implements Backend.
func (d *DynamoBackend) Get(ctx context.Context, key string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: dynamodb GetItem: %w", err)
	}
	if out.Item == nil {
		return "", ErrNotFound
	}
	v, ok := out.Item["val"].(*types.AttributeValueMemberB)
	if !ok {
		return "", fmt.Errorf("storage: dynamodb item missing binary val attribute")
	}
	return string(v.Value), nil
}

// Put implements Backend.
func (d *DynamoBackend) Put(ctx context.Context, key, val string) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			"pk":  &types.AttributeValueMemberS{Value: key},
			"val": &types.AttributeValueMemberB{Value: []byte(val)},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: dynamodb PutItem: %w", err)
	}
	return nil
}
