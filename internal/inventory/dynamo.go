package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// slotItem is the DynamoDB shape. The table key is (tenantId, slotId).
type slotItem struct {
	TenantID    string `dynamodbav:"tenantId"`
	SlotID      string `dynamodbav:"slotId"`
	DoctorName  string `dynamodbav:"doctorName"`
	StartMS     int64  `dynamodbav:"startMs"`
	EndMS       int64  `dynamodbav:"endMs"`
	Status      string `dynamodbav:"status"`
	HoldID      string `dynamodbav:"holdId,omitempty"`
	HoldExpires int64  `dynamodbav:"holdExpiresMs,omitempty"`
}

func (i slotItem) slot() Slot {
	slot := Slot{
		ID:         i.SlotID,
		TenantID:   i.TenantID,
		DoctorName: i.DoctorName,
		StartTime:  time.UnixMilli(i.StartMS).UTC(),
		EndTime:    time.UnixMilli(i.EndMS).UTC(),
		Status:     Status(i.Status),
		HoldID:     i.HoldID,
	}
	if i.HoldExpires > 0 {
		expires := time.UnixMilli(i.HoldExpires).UTC()
		slot.HoldExpiresAt = &expires
	}
	return slot
}

// DynamoStore keeps slots in a DynamoDB table and performs transitions with
// conditional UpdateItem calls.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	opts      options
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, opts ...Option) *DynamoStore {
	if client == nil {
		panic("inventory: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("inventory: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, opts: buildOptions(opts)}
}

func (s *DynamoStore) key(tenantID, slotID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenantId": &types.AttributeValueMemberS{Value: tenantID},
		"slotId":   &types.AttributeValueMemberS{Value: slotID},
	}
}

func num(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

// List implements Store.
func (s *DynamoStore) List(ctx context.Context, tenantID string, window Window) ([]Slot, error) {
	now := s.opts.now()
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("tenantId = :tenant"),
		FilterExpression:       aws.String("startMs BETWEEN :start AND :end AND #status <> :booked"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tenant": str(tenantID),
			":start":  num(window.Start.UnixMilli()),
			":end":    num(window.End.UnixMilli()),
			":booked": str(string(StatusBooked)),
		},
	}

	var out []Slot
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("inventory: query slots: %w", err)
		}
		var items []slotItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("inventory: decode slots: %w", err)
		}
		for _, item := range items {
			slot := item.slot().Observed(now)
			if slot.Status == StatusOpen && window.Contains(slot.StartTime) {
				out = append(out, slot)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sortSlots(out)
	return out, nil
}

// Get implements Store.
func (s *DynamoStore) Get(ctx context.Context, tenantID, slotID string) (Slot, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(tenantID, slotID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: get slot: %w", err)
	}
	if len(out.Item) == 0 {
		return Slot{}, ErrNotFound
	}
	var item slotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Slot{}, fmt.Errorf("inventory: decode slot: %w", err)
	}
	return item.slot().Observed(s.opts.now()), nil
}

// TryReserve implements Store.
func (s *DynamoStore) TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error) {
	now := s.opts.now()
	return s.update(ctx, "reserve", &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(tenantID, slotID),
		UpdateExpression:    aws.String("SET #status = :held, holdId = :hold, holdExpiresMs = :expires"),
		ConditionExpression: aws.String("attribute_exists(slotId) AND (#status = :open OR (#status = :held AND holdExpiresMs <= :now))"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":held":    str(string(StatusHeld)),
			":open":    str(string(StatusOpen)),
			":hold":    str(s.opts.newID()),
			":expires": num(now.Add(s.opts.holdTTL).UnixMilli()),
			":now":     num(now.UnixMilli()),
		},
	})
}

// Finalize implements Store.
func (s *DynamoStore) Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error) {
	if holdID == "" {
		return Slot{}, ErrConflict
	}
	return s.update(ctx, "finalize", &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(tenantID, slotID),
		UpdateExpression:    aws.String("SET #status = :booked REMOVE holdExpiresMs"),
		ConditionExpression: aws.String("attribute_exists(slotId) AND holdId = :hold AND (#status = :held OR #status = :booked)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":booked": str(string(StatusBooked)),
			":held":   str(string(StatusHeld)),
			":hold":   str(holdID),
		},
	})
}

// Release implements Store.
func (s *DynamoStore) Release(ctx context.Context, tenantID, slotID, holdID string) (bool, error) {
	condition := "attribute_exists(slotId) AND #status = :held"
	values := map[string]types.AttributeValue{
		":open": str(string(StatusOpen)),
		":held": str(string(StatusHeld)),
	}
	if holdID != "" {
		condition += " AND holdId = :hold"
		values[":hold"] = str(holdID)
	}
	_, err := s.update(ctx, "release", &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(tenantID, slotID),
		UpdateExpression:          aws.String("SET #status = :open REMOVE holdId, holdExpiresMs"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put implements Store.
func (s *DynamoStore) Put(ctx context.Context, slot Slot) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	if slot.Status == "" {
		slot.Status = StatusOpen
	}
	item, err := attributevalue.MarshalMap(slotItem{
		TenantID:   slot.TenantID,
		SlotID:     slot.ID,
		DoctorName: slot.DoctorName,
		StartMS:    slot.StartTime.UnixMilli(),
		EndMS:      slot.EndTime.UnixMilli(),
		Status:     string(slot.Status),
	})
	if err != nil {
		return fmt.Errorf("inventory: marshal slot: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(slotId)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inventory: put slot: %w", err)
	}
	return nil
}

// update runs a conditional UpdateItem. A failed condition is reported as
// ErrNotFound when the item is absent and ErrConflict otherwise.
func (s *DynamoStore) update(ctx context.Context, op string, input *dynamodb.UpdateItemInput) (Slot, error) {
	input.ReturnValues = types.ReturnValueAllNew
	input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	out, err := s.client.UpdateItem(ctx, input)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return Slot{}, ErrNotFound
		}
		return Slot{}, ErrConflict
	}
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: %s slot: %w", op, err)
	}
	var item slotItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return Slot{}, fmt.Errorf("inventory: decode slot: %w", err)
	}
	return item.slot(), nil
}
