package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-bridge/internal/domain"
	"github.com/go-otp-bridge/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

// AccountRepo is the account directory backed by the accounts table.
// PK: user_id. GSIs: email-index, phone_number-index, messaging_handle-index.
type AccountRepo struct {
	client    API
	tableName string
}

func NewAccountRepo(client API, tableName string) *AccountRepo {
	return &AccountRepo{client: client, tableName: tableName}
}

func (r *AccountRepo) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.queryGSI(ctx, indexEmail, fieldEmail, strings.ToLower(strings.TrimSpace(email)))
}

func (r *AccountRepo) FindAccountByMessagingHandle(ctx context.Context, handle string) (*domain.Account, error) {
	return r.queryGSI(ctx, indexMessagingHandle, fieldMessagingHandle, handle)
}

// FindAccountByPhoneCandidates returns the first account whose stored phone
// equals any candidate, in candidate order.
func (r *AccountRepo) FindAccountByPhoneCandidates(ctx context.Context, candidates []string) (*domain.Account, error) {
	for _, c := range candidates {
		a, err := r.queryGSI(ctx, indexPhoneNumber, fieldPhoneNumber, c)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("account by phone: %w", domain.ErrAccountNotFound)
}

func (r *AccountRepo) CreateAccount(ctx context.Context, in domain.NewAccount) (*domain.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &domain.Account{
		UserID:          id.New(),
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		PhoneNumber:     in.PhoneNumber,
		MessagingHandle: in.MessagingHandle,
		DisplayName:     in.DisplayName,
		PasswordHash:    string(hash),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return nil, fmt.Errorf("marshal account: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldUserID},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, fmt.Errorf("account id collision: %w", domain.ErrConflict)
		}
		return nil, err
	}
	return a, nil
}

func (r *AccountRepo) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.update(ctx, userID, map[string]interface{}{fieldPasswordHash: string(hash)})
}

func (r *AccountRepo) UpdateEmail(ctx context.Context, userID, email string) error {
	return r.update(ctx, userID, map[string]interface{}{fieldEmail: strings.ToLower(strings.TrimSpace(email))})
}

func (r *AccountRepo) update(ctx context.Context, userID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#id"] = fieldUserID
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil && isConditionFailed(err) {
		return fmt.Errorf("account %s: %w", userID, domain.ErrAccountNotFound)
	}
	return err
}

func (r *AccountRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.Account, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("account by %s: %w", attr, domain.ErrAccountNotFound)
	}
	var a domain.Account
	if err := attributevalue.UnmarshalMap(out.Items[0], &a); err != nil {
		return nil, err
	}
	return &a, nil
}
