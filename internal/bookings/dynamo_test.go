package bookings

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	putInputs    []*dynamodb.PutItemInput
	deleteInputs []*dynamodb.DeleteItemInput
	putErr       error
	deleteErr    error
	getOut       *dynamodb.GetItemOutput
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInputs = append(m.putInputs, in)
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOut, nil
}

func (m *mockDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deleteInputs = append(m.deleteInputs, in)
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoRepositoryCreateIsConditional(t *testing.T) {
	mock := &mockDynamo{}
	repo := NewDynamoRepository(mock, "bookings")

	require.NoError(t, repo.Create(context.Background(), sampleBooking()))
	require.Len(t, mock.putInputs, 1)
	in := mock.putInputs[0]
	assert.Equal(t, "bookings", aws.ToString(in.TableName))
	assert.Equal(t, "attribute_not_exists(confirmationRef)", aws.ToString(in.ConditionExpression))

	var item bookingItem
	require.NoError(t, attributevalue.UnmarshalMap(in.Item, &item))
	assert.Equal(t, "clinic_a", item.TenantID)
	assert.Equal(t, "slot-1", item.SlotID)
}

func TestDynamoRepositoryCreateDuplicate(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	repo := NewDynamoRepository(mock, "bookings")

	require.ErrorIs(t, repo.Create(context.Background(), sampleBooking()), ErrDuplicate)
}

func TestDynamoRepositoryGet(t *testing.T) {
	b := sampleBooking()
	av, err := attributevalue.MarshalMap(bookingItem{
		TenantID:        b.TenantID,
		ConfirmationRef: b.ConfirmationRef,
		SlotID:          b.SlotID,
		PatientName:     b.PatientName,
		PatientEmail:    b.PatientEmail,
		CreatedAtMS:     b.CreatedAt.UnixMilli(),
	})
	require.NoError(t, err)
	repo := NewDynamoRepository(&mockDynamo{getOut: &dynamodb.GetItemOutput{Item: av}}, "bookings")

	got, err := repo.Get(context.Background(), b.TenantID, b.ConfirmationRef)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestDynamoRepositoryGetMissing(t *testing.T) {
	repo := NewDynamoRepository(&mockDynamo{}, "bookings")

	_, err := repo.Get(context.Background(), "clinic_a", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoRepositoryDelete(t *testing.T) {
	mock := &mockDynamo{}
	repo := NewDynamoRepository(mock, "bookings")
	b := sampleBooking()

	require.NoError(t, repo.Delete(context.Background(), b))
	require.Len(t, mock.deleteInputs, 1)
	in := mock.deleteInputs[0]
	key := in.Key["confirmationRef"].(*types.AttributeValueMemberS)
	assert.Equal(t, "CLIN-ABCDEFGHIJ", key.Value)
	assert.Equal(t, "patientName = :name AND patientEmail = :email", aws.ToString(in.ConditionExpression))
	assert.Equal(t, b.PatientEmail, in.ExpressionAttributeValues[":email"].(*types.AttributeValueMemberS).Value)

	mock.deleteErr = &types.ConditionalCheckFailedException{Message: aws.String("owner changed")}
	require.NoError(t, repo.Delete(context.Background(), b), "a record owned by someone else is left alone")
}

func TestDynamoRepositoryReplace(t *testing.T) {
	mock := &mockDynamo{}
	repo := NewDynamoRepository(mock, "bookings")
	stale := sampleBooking()
	fresh := stale
	fresh.PatientName = "Bob Smith"
	fresh.PatientEmail = "bob@example.com"

	require.NoError(t, repo.Replace(context.Background(), stale, fresh))
	in := mock.putInputs[0]
	assert.Equal(t, "attribute_not_exists(confirmationRef) OR (patientName = :name AND patientEmail = :email)",
		aws.ToString(in.ConditionExpression))
	assert.Equal(t, "Jane Doe", in.ExpressionAttributeValues[":name"].(*types.AttributeValueMemberS).Value)

	var item bookingItem
	require.NoError(t, attributevalue.UnmarshalMap(in.Item, &item))
	assert.Equal(t, "bob@example.com", item.PatientEmail)

	mock.putErr = &types.ConditionalCheckFailedException{Message: aws.String("owner changed")}
	require.ErrorIs(t, repo.Replace(context.Background(), stale, fresh), ErrDuplicate)
}

func TestNewDynamoRepositoryPanics(t *testing.T) {
	assert.Panics(t, func() { NewDynamoRepository(nil, "bookings") })
	assert.Panics(t, func() { NewDynamoRepository(&mockDynamo{}, "") })
}
