package status

import (
	"context"
	"errors"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/action"
	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
	"github.com/nih-cfde/deriva-action-provider/internal/aws"
)

// Store persists action records in DynamoDB, keyed by action_id. It is the
// only coordination point between the HTTP boundary and the job runner:
// Create's conditional put is the single hard concurrency primitive.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	logger    *zap.Logger
}

// NewStore returns a Store bound to a table.
func NewStore(client aws.DynamoDBAPI, tableName string, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger.With(zap.String("component", "status-store")),
	}
}

// Create inserts a new record. The conditional expression makes the insert
// atomic: a concurrent insert under the same action_id fails with
// AlreadyExists instead of silently overwriting.
func (s *Store) Create(ctx context.Context, rec *action.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return apierr.Wrap(apierr.InternalError("marshal action record"), err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(action_id)"),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionalFailure(err) {
			return apierr.AlreadyExists("action %s already exists", rec.ActionID)
		}
		s.logger.Error("create failed", zap.String("action_id", rec.ActionID), zap.Error(err))
		return apierr.Wrap(apierr.ServiceError("error creating status for action %s", rec.ActionID), err)
	}

	s.logger.Info("action status created", zap.String("action_id", rec.ActionID))
	return nil
}

// Get fetches a record by action_id with a consistent read.
func (s *Store) Get(ctx context.Context, actionID string) (*action.Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: sdkaws.Bool(true),
		Key: map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: actionID},
		},
	})
	if err != nil {
		s.logger.Error("get failed", zap.String("action_id", actionID), zap.Error(err))
		return nil, apierr.Wrap(apierr.ServiceError("error reading status for action %s", actionID), err)
	}
	if len(out.Item) == 0 {
		return nil, apierr.NotFound("action %s not found in status database", actionID)
	}

	var rec action.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, apierr.Wrap(apierr.InternalError("unmarshal action record %s", actionID), err)
	}
	return &rec, nil
}

// FindByRequestID looks up a record by the caller-supplied request_id.
// request_id is not indexed, so this scans the full table, paging through
// partial result sets until exhaustion. Exactly one match is expected;
// request_id is unique by convention only, so finding more than one is an
// invariant violation and reported rather than picking one arbitrarily.
func (s *Store) FindByRequestID(ctx context.Context, requestID string) (*action.Record, error) {
	input := &dyn.ScanInput{
		TableName:        &s.tableName,
		ConsistentRead:   sdkaws.Bool(true),
		FilterExpression: sdkaws.String("request_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: requestID},
		},
	}

	var matches []map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			s.logger.Error("scan failed", zap.String("request_id", requestID), zap.Error(err))
			return nil, apierr.Wrap(apierr.ServiceError("error scanning for request %s", requestID), err)
		}
		matches = append(matches, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	switch len(matches) {
	case 0:
		return nil, apierr.NotFound("request ID %q not found in status database", requestID)
	case 1:
		var rec action.Record
		if err := attributevalue.UnmarshalMap(matches[0], &rec); err != nil {
			return nil, apierr.Wrap(apierr.InternalError("unmarshal record for request %s", requestID), err)
		}
		return &rec, nil
	default:
		s.logger.Error("multiple entries found for request ID", zap.String("request_id", requestID), zap.Int("count", len(matches)))
		return nil, apierr.InternalError("multiple entries found for request ID %q: ambiguous state", requestID)
	}
}

// Merge reads the existing record, deep-merges the update on top, and
// writes the merged whole back. Update keys win; nested detail maps merge
// key-by-key.
func (s *Store) Merge(ctx context.Context, actionID string, update action.Update) (*action.Record, error) {
	rec, err := s.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	rec.Apply(update)

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError("marshal merged record %s", actionID), err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		s.logger.Error("merge write failed", zap.String("action_id", actionID), zap.Error(err))
		return nil, apierr.Wrap(apierr.ServiceError("error updating status for action %s", actionID), err)
	}

	s.logger.Debug("action status updated", zap.String("action_id", actionID), zap.String("status", rec.Status))
	return rec, nil
}

// Delete removes a record and verifies it is gone. The verify-after-delete
// read is a required post-condition: a record that survives deletion is an
// internal inconsistency, not a silent success.
func (s *Store) Delete(ctx context.Context, actionID string) error {
	if _, err := s.Get(ctx, actionID); err != nil {
		return err
	}

	if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"action_id": &types.AttributeValueMemberS{Value: actionID},
		},
	}); err != nil {
		s.logger.Error("delete failed", zap.String("action_id", actionID), zap.Error(err))
		return apierr.Wrap(apierr.ServiceError("error deleting status for action %s", actionID), err)
	}

	_, err := s.Get(ctx, actionID)
	if err == nil {
		s.logger.Error("action status present after deletion", zap.String("action_id", actionID))
		return apierr.InternalError("action %s was not deleted", actionID)
	}
	if !apierr.IsCode(err, apierr.CodeNotFound) {
		return err
	}

	s.logger.Info("action status deleted", zap.String("action_id", actionID))
	return nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}
