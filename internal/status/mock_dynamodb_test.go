package status

import (
	"context"
	"errors"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for the DynamoDB client,
// implementing just enough of PutItem/GetItem/DeleteItem/Scan for the
// store tests. Scan pages results pageSize at a time so pagination is
// exercised for real.
type mockDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int

	failPut    error
	failScan   error
	failDelete error

	scanCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items:    map[string]map[string]types.AttributeValue{},
		pageSize: 100,
	}
}

func itemKey(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["action_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing action_id attribute")
	}
	return attr.Value, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return nil, m.failPut
	}
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(action_id)" {
		if _, exists := m.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attr, ok := params.Key["action_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing action_id key")
	}
	item, ok := m.items[attr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return nil, m.failDelete
	}
	attr, ok := params.Key["action_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing action_id key")
	}
	delete(m.items, attr.Value)
	return &dyn.DeleteItemOutput{}, nil
}

// Scan walks the table in key order, pageSize items per call, applying the
// request_id filter per page the way DynamoDB does: a page can match
// nothing and still carry a LastEvaluatedKey.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if m.failScan != nil {
		return nil, m.failScan
	}

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last := params.ExclusiveStartKey["action_id"].(*types.AttributeValueMemberS).Value
		for i, k := range keys {
			if k == last {
				start = i + 1
				break
			}
		}
	}

	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	var wantRequestID string
	if params.FilterExpression != nil && *params.FilterExpression == "request_id = :rid" {
		wantRequestID = params.ExpressionAttributeValues[":rid"].(*types.AttributeValueMemberS).Value
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		item := m.items[k]
		if wantRequestID != "" {
			rid, ok := item["request_id"].(*types.AttributeValueMemberS)
			if !ok || rid.Value != wantRequestID {
				continue
			}
		}
		out.Items = append(out.Items, item)
	}

	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}
