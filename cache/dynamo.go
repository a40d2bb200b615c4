package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the interface for DynamoDB operations used by DynamoLevel.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLevel is a shared level backed by a DynamoDB table, for deployments
// without a Redis. Expired items are also filtered on read because DynamoDB
// TTL deletion lags expiry.
//
// Table schema:
//   - Partition key: cache_key (string)
//   - Attribute: payload (binary)
//   - Attribute: expires_at (number, unix seconds) - enable DynamoDB TTL on it
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name ragserve-cache \
//	  --attribute-definitions AttributeName=cache_key,AttributeType=S \
//	  --key-schema AttributeName=cache_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoLevel struct {
	client    DDBClient
	tableName string
	ttl       time.Duration

	now func() time.Time
}

// NewDynamoLevel creates a DynamoDB-backed shared level.
func NewDynamoLevel(client DDBClient, tableName string, defaultTTL time.Duration) *DynamoLevel {
	return &DynamoLevel{
		client:    client,
		tableName: tableName,
		ttl:       defaultTTL,
		now:       time.Now,
	}
}

// Name implements Level.
func (c *DynamoLevel) Name() string { return "shared" }

// Get returns the cached payload or ErrMiss.
func (c *DynamoLevel) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	if resp.Item == nil {
		return nil, ErrMiss
	}

	if attr, ok := resp.Item["expires_at"].(*types.AttributeValueMemberN); ok {
		expireAt, err := strconv.ParseInt(attr.Value, 10, 64)
		if err == nil && expireAt > 0 && c.now().Unix() >= expireAt {
			return nil, ErrMiss
		}
	}

	payload, ok := resp.Item["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, ErrMiss
	}
	return payload.Value, nil
}

// Set stores the payload.
func (c *DynamoLevel) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	item := map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
		"payload":   &types.AttributeValueMemberB{Value: data},
	}
	if ttl > 0 {
		expireAt := c.now().Add(ttl).Unix()
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expireAt, 10)}
	}

	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	return err
}

// Delete removes the entry.
func (c *DynamoLevel) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

// Close implements Level.
func (c *DynamoLevel) Close() error { return nil }
