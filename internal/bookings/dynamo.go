package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// bookingItem is the DynamoDB shape. The table key is (tenantId, confirmationRef).
type bookingItem struct {
	TenantID        string `dynamodbav:"tenantId"`
	ConfirmationRef string `dynamodbav:"confirmationRef"`
	SlotID          string `dynamodbav:"slotId"`
	PatientName     string `dynamodbav:"patientName"`
	PatientEmail    string `dynamodbav:"patientEmail"`
	CreatedAtMS     int64  `dynamodbav:"createdAtMs"`
}

// DynamoRepository stores bookings in DynamoDB using conditional puts.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
}

var _ Repository = (*DynamoRepository)(nil)

// NewDynamoRepository builds a repository on the provided client.
func NewDynamoRepository(client dynamoAPI, tableName string) *DynamoRepository {
	if client == nil {
		panic("bookings: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("bookings: table name cannot be empty")
	}
	return &DynamoRepository{client: client, tableName: tableName}
}

func (r *DynamoRepository) key(tenantID, ref string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenantId":        &types.AttributeValueMemberS{Value: tenantID},
		"confirmationRef": &types.AttributeValueMemberS{Value: ref},
	}
}

// Get implements Repository.
func (r *DynamoRepository) Get(ctx context.Context, tenantID, ref string) (Booking, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(tenantID, ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Booking{}, fmt.Errorf("bookings: get booking: %w", err)
	}
	if len(out.Item) == 0 {
		return Booking{}, ErrNotFound
	}
	var item bookingItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Booking{}, fmt.Errorf("bookings: decode booking: %w", err)
	}
	return Booking{
		ConfirmationRef: item.ConfirmationRef,
		TenantID:        item.TenantID,
		SlotID:          item.SlotID,
		PatientName:     item.PatientName,
		PatientEmail:    item.PatientEmail,
		CreatedAt:       time.UnixMilli(item.CreatedAtMS).UTC(),
	}, nil
}

func encodeBooking(booking Booking) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(bookingItem{
		TenantID:        booking.TenantID,
		ConfirmationRef: booking.ConfirmationRef,
		SlotID:          booking.SlotID,
		PatientName:     booking.PatientName,
		PatientEmail:    booking.PatientEmail,
		CreatedAtMS:     booking.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("bookings: encode booking: %w", err)
	}
	return av, nil
}

func ownerValues(b Booking) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":name":  &types.AttributeValueMemberS{Value: b.PatientName},
		":email": &types.AttributeValueMemberS{Value: b.PatientEmail},
	}
}

// Create implements Repository.
func (r *DynamoRepository) Create(ctx context.Context, booking Booking) error {
	av, err := encodeBooking(booking)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(confirmationRef)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("bookings: put booking: %w", err)
	}
	return nil
}

// Replace implements Repository.
func (r *DynamoRepository) Replace(ctx context.Context, stale, fresh Booking) error {
	av, err := encodeBooking(fresh)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       aws.String("attribute_not_exists(confirmationRef) OR (patientName = :name AND patientEmail = :email)"),
		ExpressionAttributeValues: ownerValues(stale),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("bookings: replace booking: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (r *DynamoRepository) Delete(ctx context.Context, booking Booking) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       r.key(booking.TenantID, booking.ConfirmationRef),
		ConditionExpression:       aws.String("patientName = :name AND patientEmail = :email"),
		ExpressionAttributeValues: ownerValues(booking),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bookings: delete booking: %w", err)
	}
	return nil
}
