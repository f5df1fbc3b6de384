package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Guard rows share one table keyed by guard_key.
const (
	emailGuardPrefix    = "email#"
	cooldownGuardPrefix = "cooldown#"
)

func emailGuardKey(email string) string { return emailGuardPrefix + email }

// CooldownRepo is a per-key send throttle on the guard table. Acquire is one
// conditional put, so concurrent callers cannot both take the same slot.
type CooldownRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewCooldownRepo(client API, tableName string) *CooldownRepo {
	return &CooldownRepo{client: client, tableName: tableName, now: time.Now}
}

// Acquire reports whether key was free and is now held for ttl. An expired
// slot counts as free even before DynamoDB's TTL sweep removes it.
func (r *CooldownRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := r.now()
	until := now.Add(ttl)
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			fieldGuardKey:  &types.AttributeValueMemberS{Value: cooldownGuardPrefix + key},
			fieldExpiresMs: &types.AttributeValueMemberN{Value: strconv.FormatInt(until.UnixMilli(), 10)},
			fieldTTL:       &types.AttributeValueMemberN{Value: strconv.FormatInt(until.Add(time.Hour).Unix(), 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#k) OR #x <= :now"),
		ExpressionAttributeNames: map[string]string{"#k": fieldGuardKey, "#x": fieldExpiresMs},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("cooldown acquire: %w", err)
	}
	return true, nil
}

// Release frees key so a failed send does not lock the caller out.
func (r *CooldownRepo) Release(ctx context.Context, key string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldGuardKey, cooldownGuardPrefix+key),
	})
	if err != nil {
		return fmt.Errorf("cooldown release: %w", err)
	}
	return nil
}
