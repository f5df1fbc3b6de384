package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-bridge/internal/domain"
)

// MessagingIdentityRepo stores bot chat identities.
// PK: chat_handle. GSI: phone_number-index (sparse until a contact is shared).
type MessagingIdentityRepo struct {
	client    API
	tableName string
}

func NewMessagingIdentityRepo(client API, tableName string) *MessagingIdentityRepo {
	return &MessagingIdentityRepo{client: client, tableName: tableName}
}

// UpsertProfile creates or refreshes the profile fields of an identity.
// The phone number is left untouched, so replays never clear a shared contact.
func (r *MessagingIdentityRepo) UpsertProfile(ctx context.Context, m *domain.MessagingIdentity) error {
	return r.upsert(ctx, m.ChatHandle, map[string]interface{}{
		fieldUsername:    m.Username,
		fieldDisplayName: m.DisplayName,
		fieldIsActive:    true,
		fieldUpdatedAt:   time.Now().UTC(),
	})
}

// UpsertPhone binds a normalized phone number to the identity.
func (r *MessagingIdentityRepo) UpsertPhone(ctx context.Context, chatHandle, phoneNumber string) error {
	return r.upsert(ctx, chatHandle, map[string]interface{}{
		fieldPhoneNumber: phoneNumber,
		fieldIsActive:    true,
		fieldUpdatedAt:   time.Now().UTC(),
	})
}

func (r *MessagingIdentityRepo) upsert(ctx context.Context, chatHandle string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldChatHandle, chatHandle),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return fmt.Errorf("upsert messaging identity: %w", err)
	}
	return nil
}

func (r *MessagingIdentityRepo) GetByChatHandle(ctx context.Context, chatHandle string) (*domain.MessagingIdentity, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldChatHandle, chatHandle),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("chat handle %s: %w", chatHandle, domain.ErrMessagingIdentityNotFound)
	}
	var m domain.MessagingIdentity
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindActiveByPhoneCandidates returns the most recently updated active identity
// whose stored phone equals any candidate.
func (r *MessagingIdentityRepo) FindActiveByPhoneCandidates(ctx context.Context, candidates []string) (*domain.MessagingIdentity, error) {
	var best *domain.MessagingIdentity
	for _, c := range candidates {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(r.tableName),
			IndexName:                aws.String(indexPhoneNumber),
			KeyConditionExpression:   aws.String("#p = :p"),
			FilterExpression:         aws.String("#a = :t"),
			ExpressionAttributeNames: map[string]string{"#p": fieldPhoneNumber, "#a": fieldIsActive},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: c},
				":t": &types.AttributeValueMemberBOOL{Value: true},
			},
		})
		if err != nil {
			return nil, err
		}
		var found []domain.MessagingIdentity
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &found); err != nil {
			return nil, err
		}
		for i := range found {
			if best == nil || found[i].UpdatedAt.After(best.UpdatedAt) {
				best = &found[i]
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("messaging identity by phone: %w", domain.ErrMessagingIdentityNotFound)
	}
	return best, nil
}
