package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"support-agent/internal/domain"
)

const (
	pkPrefix    = "SESSION#"
	skPrefixMsg = "MSG#"
	// Fixed width so lexical SK order equals chronological order.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"

	maxBatchWrite         = 25
	maxUnprocessedRetries = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client is the DynamoDB-backed session transcript. Every session is one
// partition; messages sort by their store-assigned timestamp.
type Client struct {
	api          dynamodbAPI
	tableName    string
	clock        *monotonicClock
	retryBackoff time.Duration
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:          api,
		tableName:    tableName,
		clock:        newMonotonicClock(time.Now),
		retryBackoff: 50 * time.Millisecond,
	}, nil
}

func sessionPK(sessionID string) string {
	return pkPrefix + sessionID
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(skTimeLayout) + "#" + uuid.NewString()[:8]
}

// Append writes one immutable message to the session log.
func (c *Client) Append(ctx context.Context, sessionID, role, content string) error {
	if err := validateAppend(sessionID, role); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	ts := c.clock.next()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: messageItem(domain.Message{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: ts,
		}),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ReadOrdered returns every message of the session in ascending creation order.
// An unknown session yields an empty slice.
func (c *Client) ReadOrdered(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var (
		msgs     []domain.Message
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ReadOrdered query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ReadOrdered unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// DeleteSession removes every message of the session. Deleting an unknown
// session succeeds.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ConsistentRead:       aws.Bool(true),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("repository: DeleteSession query: %w", err)
		}
		for start := 0; start < len(out.Items); start += maxBatchWrite {
			end := min(start+maxBatchWrite, len(out.Items))
			if err := c.batchDelete(ctx, out.Items[start:end]); err != nil {
				return fmt.Errorf("repository: DeleteSession: %w", err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (c *Client) batchDelete(ctx context.Context, items []map[string]types.AttributeValue) error {
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			}},
		})
	}

	pending := map[string][]types.WriteRequest{c.tableName: reqs}
	for attempt := 0; ; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		if attempt >= maxUnprocessedRetries {
			return fmt.Errorf("batch write: %d items left unprocessed", len(out.UnprocessedItems[c.tableName]))
		}
		pending = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryBackoff * time.Duration(attempt+1)):
		}
	}
}

func validateAppend(sessionID, role string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return fmt.Errorf("role %q cannot be persisted", role)
	}
	return nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt)},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"role":      &types.AttributeValueMemberS{Value: msg.Role},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt": &types.AttributeValueMemberS{Value: msg.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	rawTS, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
	}
	return domain.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
