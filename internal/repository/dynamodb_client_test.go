package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

// fakeDynamo keeps items per partition and serves ordered, paged queries.
type fakeDynamo struct {
	items       map[string]map[string]map[string]types.AttributeValue
	pageSize    int
	putErr      error
	queryErr    error
	batchErr    error
	unprocessed int // number of BatchWriteItem calls that report everything unprocessed

	lastPutInput   *dynamodb.PutItemInput
	lastQueryIn    *dynamodb.QueryInput
	batchCalls     int
	batchSizesSeen []int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	sk := in.Item["SK"].(*types.AttributeValueMemberS).Value
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	if _, exists := f.items[pk][sk]; exists {
		return nil, errors.New("ConditionalCheckFailedException")
	}
	f.items[pk][sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	sks := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		sks = append(sks, sk)
	}
	sort.Strings(sks)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := in.ExclusiveStartKey["SK"].(*types.AttributeValueMemberS).Value
		start = sort.SearchStrings(sks, after)
		if start < len(sks) && sks[start] == after {
			start++
		}
	}
	end := len(sks)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, sk := range sks[start:end] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	if end < len(sks) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sks[end-1]},
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	for _, reqs := range in.RequestItems {
		f.batchSizesSeen = append(f.batchSizesSeen, len(reqs))
	}
	if f.unprocessed > 0 {
		f.unprocessed--
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: in.RequestItems}, nil
	}
	for _, reqs := range in.RequestItems {
		for _, r := range reqs {
			pk := r.DeleteRequest.Key["PK"].(*types.AttributeValueMemberS).Value
			sk := r.DeleteRequest.Key["SK"].(*types.AttributeValueMemberS).Value
			delete(f.items[pk], sk)
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.retryBackoff = time.Millisecond
	return c
}

func TestAppendThenReadOrdered_PreservesAppendOrder(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	frozen := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	c.clock.now = func() time.Time { return frozen }

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, c.Append(ctx, "abc", role, fmt.Sprintf("m%d", i)))
	}

	msgs, err := c.ReadOrdered(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 12)
	for i, m := range msgs {
		require.Equal(t, fmt.Sprintf("m%d", i), m.Content)
		require.Equal(t, "abc", m.SessionID)
		if i > 0 {
			require.True(t, m.CreatedAt.After(msgs[i-1].CreatedAt))
		}
	}
}

func TestReadOrdered_FollowsPagination(t *testing.T) {
	db := newFakeDynamo()
	db.pageSize = 2
	c := mustNewClient(t, db)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Append(ctx, "abc", domain.RoleUser, fmt.Sprintf("m%d", i)))
	}

	msgs, err := c.ReadOrdered(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	require.Equal(t, "m4", msgs[4].Content)
}

func TestReadOrdered_UnknownSessionIsEmpty(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	msgs, err := c.ReadOrdered(context.Background(), "missing")
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestReadOrdered_QueryShape(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	_, err := c.ReadOrdered(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
	require.True(t, *db.lastQueryIn.ScanIndexForward)
	require.True(t, *db.lastQueryIn.ConsistentRead)
	require.Equal(t, "SESSION#abc", db.lastQueryIn.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
}

func TestReadOrdered_QueryError(t *testing.T) {
	db := newFakeDynamo()
	db.queryErr = errors.New("ResourceNotFoundException")
	c := mustNewClient(t, db)
	_, err := c.ReadOrdered(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReadOrdered")
}

func TestReadOrdered_MalformedItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["SESSION#abc"] = map[string]map[string]types.AttributeValue{
		"MSG#1": {
			"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
			"SK": &types.AttributeValueMemberS{Value: "MSG#1"},
		},
	}
	c := mustNewClient(t, db)
	_, err := c.ReadOrdered(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "sessionId")
}

func TestAppend_ItemShape(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	require.NoError(t, c.Append(context.Background(), "abc", domain.RoleAssistant, "hello"))

	item := db.lastPutInput.Item
	require.Equal(t, "SESSION#abc", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, item["SK"].(*types.AttributeValueMemberS).Value, "MSG#")
	require.Equal(t, "assistant", item["role"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "hello", item["content"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestAppend_RejectsInvalidInput(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	err := c.Append(context.Background(), " ", domain.RoleUser, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session id")

	err = c.Append(context.Background(), "abc", domain.RoleSystem, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot be persisted")
}

func TestAppend_DynamoError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("ProvisionedThroughputExceededException")
	c := mustNewClient(t, db)
	err := c.Append(context.Background(), "abc", domain.RoleUser, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Append")
}

func TestDeleteSession_RemovesEverythingAndIsIdempotent(t *testing.T) {
	db := newFakeDynamo()
	db.pageSize = 30
	c := mustNewClient(t, db)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, c.Append(ctx, "abc", domain.RoleUser, fmt.Sprintf("m%d", i)))
	}
	require.NoError(t, c.Append(ctx, "other", domain.RoleUser, "keep me"))

	require.NoError(t, c.DeleteSession(ctx, "abc"))
	require.NoError(t, c.DeleteSession(ctx, "abc"))

	msgs, err := c.ReadOrdered(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)

	others, err := c.ReadOrdered(ctx, "other")
	require.NoError(t, err)
	require.Len(t, others, 1)

	for _, n := range db.batchSizesSeen {
		require.LessOrEqual(t, n, maxBatchWrite)
	}
}

func TestDeleteSession_RetriesUnprocessedItems(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, "abc", domain.RoleUser, "hi"))

	db.unprocessed = 1
	require.NoError(t, c.DeleteSession(ctx, "abc"))
	require.Equal(t, 2, db.batchCalls)

	msgs, err := c.ReadOrdered(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDeleteSession_GivesUpAfterBoundedRetries(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, "abc", domain.RoleUser, "hi"))

	db.unprocessed = maxUnprocessedRetries + 1
	err := c.DeleteSession(ctx, "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unprocessed")
}

func TestDeleteSession_Errors(t *testing.T) {
	db := newFakeDynamo()
	db.queryErr = errors.New("boom")
	c := mustNewClient(t, db)
	err := c.DeleteSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteSession query")

	db = newFakeDynamo()
	c = mustNewClient(t, db)
	require.NoError(t, c.Append(context.Background(), "abc", domain.RoleUser, "hi"))
	db.batchErr = errors.New("throttled")
	err = c.DeleteSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "throttled")
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	early := time.Date(2026, 2, 25, 10, 0, 5, 100_000_000, time.UTC)
	late := time.Date(2026, 2, 25, 10, 0, 5, 120_000_000, time.UTC)
	require.Less(t, msgSK(early), msgSK(late))
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#my-session", sessionPK("my-session"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(newFakeDynamo(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
