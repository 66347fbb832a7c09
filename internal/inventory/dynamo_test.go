package inventory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	putInputs    []*dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput

	putErr    error
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	getOut    *dynamodb.GetItemOutput
	pages     []*dynamodb.QueryOutput
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInputs = append(m.putInputs, in)
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return m.updateOut, nil
}

func (m *mockDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOut, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	copied := *in
	m.queryInputs = append(m.queryInputs, &copied)
	page := m.pages[0]
	m.pages = m.pages[1:]
	return page, nil
}

func itemFor(t *testing.T, item slotItem) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	return av
}

func TestDynamoStoreReserveSendsConditionalUpdate(t *testing.T) {
	clock := newTestClock()
	now := clock.Now()
	mock := &mockDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: itemFor(t, slotItem{
		TenantID: "clinic-1", SlotID: "S1", StartMS: at(9, 0).UnixMilli(), EndMS: at(9, 30).UnixMilli(),
		Status: "HELD", HoldID: "hold-1", HoldExpires: now.Add(30 * time.Second).UnixMilli(),
	})}}
	store := NewDynamoStore(mock, "slots", WithClock(clock.Now))
	store.opts.newID = func() string { return "hold-1" }

	slot, err := store.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, slot.Status)
	assert.Equal(t, "hold-1", slot.HoldID)

	in := mock.updateInputs[0]
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_exists(slotId)")
	assert.Equal(t, "status", in.ExpressionAttributeNames["#status"])
	assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "clinic-1", in.Key["tenantId"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, in.ReturnValuesOnConditionCheckFailure)
}

func TestDynamoStoreConditionFailures(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{
		Message: aws.String("conditional request failed"),
		Item:    itemFor(t, slotItem{TenantID: "clinic-1", SlotID: "S1", Status: "BOOKED"}),
	}}
	store := NewDynamoStore(mock, "slots")

	_, err := store.TryReserve(context.Background(), "clinic-1", "S1")
	assert.ErrorIs(t, err, ErrConflict)

	mock.updateErr = &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	_, err = store.Finalize(context.Background(), "clinic-1", "S9", "hold")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStoreReleaseIgnoresLostHold(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{
		Item: itemFor(t, slotItem{TenantID: "clinic-1", SlotID: "S1", Status: "BOOKED"}),
	}}
	store := NewDynamoStore(mock, "slots")
	released, err := store.Release(context.Background(), "clinic-1", "S1", "hold-1")
	require.NoError(t, err)
	assert.False(t, released)
	assert.Contains(t, aws.ToString(mock.updateInputs[0].ConditionExpression), "holdId = :hold")
}

func TestDynamoStoreFinalizeAcceptsBookedUnderSameHold(t *testing.T) {
	mock := &mockDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: itemFor(t, slotItem{
		TenantID: "clinic-1", SlotID: "S1", StartMS: at(9, 0).UnixMilli(), EndMS: at(9, 30).UnixMilli(),
		Status: "BOOKED", HoldID: "hold-1",
	})}}
	store := NewDynamoStore(mock, "slots")

	slot, err := store.Finalize(context.Background(), "clinic-1", "S1", "hold-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, slot.Status)
	assert.Equal(t, "hold-1", slot.HoldID)

	in := mock.updateInputs[0]
	assert.Equal(t, "attribute_exists(slotId) AND holdId = :hold AND (#status = :held OR #status = :booked)",
		aws.ToString(in.ConditionExpression))
	assert.NotContains(t, aws.ToString(in.UpdateExpression), "holdId", "the hold id must survive booking")

	_, err = store.Finalize(context.Background(), "clinic-1", "S1", "")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, mock.updateInputs, 1, "an empty hold never reaches the table")
}

func TestDynamoStoreListPaginatesAndFilters(t *testing.T) {
	clock := newTestClock()
	live := clock.Now().Add(time.Minute).UnixMilli()
	mock := &mockDynamo{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				itemFor(t, slotItem{TenantID: "clinic-1", SlotID: "S3", StartMS: at(14, 0).UnixMilli(), EndMS: at(14, 30).UnixMilli(), Status: "OPEN"}),
				itemFor(t, slotItem{TenantID: "clinic-1", SlotID: "S2", StartMS: at(9, 30).UnixMilli(), EndMS: at(10, 0).UnixMilli(), Status: "HELD", HoldID: "h", HoldExpires: live}),
			},
			LastEvaluatedKey: map[string]types.AttributeValue{"slotId": &types.AttributeValueMemberS{Value: "S2"}},
		},
		{
			Items: []map[string]types.AttributeValue{
				itemFor(t, slotItem{TenantID: "clinic-1", SlotID: "S1", StartMS: at(9, 0).UnixMilli(), EndMS: at(9, 30).UnixMilli(), Status: "OPEN"}),
			},
		},
	}}
	store := NewDynamoStore(mock, "slots", WithClock(clock.Now))

	slots, err := store.List(context.Background(), "clinic-1", day)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S3"}, ids(slots))
	require.Len(t, mock.queryInputs, 2)
	assert.NotEmpty(t, mock.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoStorePutIsInsertOnly(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, "slots")

	require.NoError(t, store.Put(context.Background(), mkSlot("clinic-1", "S1", at(9, 0))))
	assert.Equal(t, "attribute_not_exists(slotId)", aws.ToString(mock.putInputs[0].ConditionExpression))

	var stored slotItem
	require.NoError(t, attributevalue.UnmarshalMap(mock.putInputs[0].Item, &stored))
	assert.Equal(t, "OPEN", stored.Status)
	assert.Equal(t, at(9, 0).UnixMilli(), stored.StartMS)
}

func TestDynamoStoreGetMissing(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{}, "slots")
	_, err := store.Get(context.Background(), "clinic-1", "S1")
	assert.ErrorIs(t, err, ErrNotFound)
}
