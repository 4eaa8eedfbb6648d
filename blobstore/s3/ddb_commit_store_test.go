package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hothotzd123/sensei/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // key -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	num := func(item map[string]types.AttributeValue) uint64 {
		n, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return n
	}
	sort.Slice(items, func(i, j int) bool { return num(items[i]) > num(items[j]) })

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

type failingDDBClient struct{ mockDDBClient }

func (f *failingDDBClient) Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return nil, errors.New("throttled")
}

func newTestDDBCommitStore(ddb DDBClient, baseURI string) (*DDBCommitStore, *blobstore.MemoryStore) {
	inner := blobstore.NewMemoryStore()
	return NewDDBCommitStore(inner, ddb, "sensei-commits", baseURI), inner
}

func readCurrent(t *testing.T, store blobstore.Store) string {
	t.Helper()
	data, err := blobstore.ReadAll(context.Background(), store, CurrentName)
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, CurrentName, []byte("manifest-1.json")))
	assert.Equal(t, "manifest-1.json", readCurrent(t, store))

	// CURRENT never reaches the object store.
	assert.Equal(t, 0, inner.Len())
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	// More than nine commits so numeric ordering matters.
	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Put(ctx, CurrentName, []byte(fmt.Sprintf("manifest-%d.json", i))))
	}
	assert.Equal(t, "manifest-12.json", readCurrent(t, store))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, CurrentName, []byte("manifest-1.json")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, CurrentName, []byte(fmt.Sprintf("manifest-%d.json", id+2)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentModification):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Greater(t, successes, 0, "at least one writer should succeed")
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	_, err := store.Open(context.Background(), CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	store1, _ := newTestDDBCommitStore(ddb, "s3://bucket/shard0/")
	store2 := store1.WithBaseURI(blobstore.NewMemoryStore(), "s3://bucket/shard1/")

	require.NoError(t, store1.Put(ctx, CurrentName, []byte("manifest-a.json")))
	require.NoError(t, store2.Put(ctx, CurrentName, []byte("manifest-b.json")))

	assert.Equal(t, "manifest-a.json", readCurrent(t, store1))
	assert.Equal(t, "manifest-b.json", readCurrent(t, store2))
}

func TestDDBCommitStore_PassThrough(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestDDBCommitStore(newMockDDBClient(), "s3://b/p/")

	require.NoError(t, store.Put(ctx, "buckets/1.bin", []byte("data")))
	assert.Equal(t, 1, inner.Len())

	names, err := store.List(ctx, "buckets/")
	require.NoError(t, err)
	assert.Equal(t, []string{"buckets/1.bin"}, names)

	require.NoError(t, store.Delete(ctx, "buckets/1.bin"))
	require.NoError(t, store.Delete(ctx, CurrentName))
	assert.Equal(t, 0, inner.Len())
}

func TestDDBCommitStore_QueryError(t *testing.T) {
	store, _ := newTestDDBCommitStore(&failingDDBClient{}, "s3://b/p/")

	err := store.Put(context.Background(), CurrentName, []byte("m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
