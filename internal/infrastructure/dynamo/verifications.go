package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-bridge/internal/domain"
)

// maxTxItems is the DynamoDB limit on items in one TransactWriteItems call.
const maxTxItems = 100

// VerificationSessionRepo stores OTP verification sessions.
// PK: session_token. GSI: email-index. The guard table holds one row per email
// naming the newest session token.
type VerificationSessionRepo struct {
	client     API
	tableName  string
	guardTable string
}

func NewVerificationSessionRepo(client API, tableName, guardTable string) *VerificationSessionRepo {
	return &VerificationSessionRepo{client: client, tableName: tableName, guardTable: guardTable}
}

// Replace deletes every unused session for s.Email and inserts s in one transaction.
// The same transaction moves the email guard row from the previous token to s, so
// two concurrent Replace calls for one email cannot both commit. Deletes are
// conditioned on is_used = false. A cancelled transaction is retried once.
func (r *VerificationSessionRepo) Replace(ctx context.Context, s *domain.VerificationSession) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal verification session: %w", err)
	}
	for attempt := 0; ; attempt++ {
		err = r.replaceOnce(ctx, s, item)
		if err == nil || !isConditionFailed(err) || attempt == 1 {
			break
		}
		slog.Warn("verification session replace raced, retrying", "email", s.Email)
	}
	if err != nil && isConditionFailed(err) {
		return fmt.Errorf("replace verification session: %w", domain.ErrConflict)
	}
	return err
}

func (r *VerificationSessionRepo) replaceOnce(ctx context.Context, s *domain.VerificationSession, item map[string]types.AttributeValue) error {
	prev, err := r.guardedToken(ctx, s.Email)
	if err != nil {
		return err
	}
	stale, err := r.unusedTokensByEmail(ctx, s.Email)
	if err != nil {
		return err
	}
	// The email index lags behind writes; the guard row does not.
	if prev != "" && !slices.Contains(stale, prev) {
		cur, err := r.Get(ctx, prev)
		switch {
		case err == nil && !cur.IsUsed:
			stale = append(stale, prev)
		case err != nil && !errors.Is(err, domain.ErrSessionNotFound):
			return err
		}
	}
	// Overflow beyond the transaction limit is deleted up front; the single-session
	// invariant keeps this list at one entry in practice.
	for len(stale) > maxTxItems-2 {
		if err := r.Delete(ctx, stale[0]); err != nil {
			return err
		}
		stale = stale[1:]
	}

	notUsed := map[string]types.AttributeValue{":f": &types.AttributeValueMemberBOOL{Value: false}}
	items := make([]types.TransactWriteItem, 0, len(stale)+2)
	for _, tok := range stale {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                 aws.String(r.tableName),
				Key:                       strKey(fieldSessionToken, tok),
				ConditionExpression:       aws.String("#u = :f"),
				ExpressionAttributeNames:  map[string]string{"#u": fieldIsUsed},
				ExpressionAttributeValues: notUsed,
			},
		})
	}
	items = append(items,
		types.TransactWriteItem{
			Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#t)"),
				ExpressionAttributeNames: map[string]string{"#t": fieldSessionToken},
			},
		},
		types.TransactWriteItem{Put: r.guardPut(s, prev)},
	)
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// guardedToken returns the token the email guard row points at, or "".
func (r *VerificationSessionRepo) guardedToken(ctx context.Context, email string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.guardTable),
		Key:            strKey(fieldGuardKey, emailGuardKey(email)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get email guard: %w", err)
	}
	if v, ok := out.Item[fieldSessionToken].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	return "", nil
}

// guardPut points the email guard at s. It only succeeds while the guard still
// names prev, which is what makes concurrent replacements conflict.
func (r *VerificationSessionRepo) guardPut(s *domain.VerificationSession, prev string) *types.Put {
	put := &types.Put{
		TableName: aws.String(r.guardTable),
		Item: map[string]types.AttributeValue{
			fieldGuardKey:     &types.AttributeValueMemberS{Value: emailGuardKey(s.Email)},
			fieldSessionToken: &types.AttributeValueMemberS{Value: s.SessionToken},
			fieldTTL:          &types.AttributeValueMemberN{Value: strconv.FormatInt(s.TTL, 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": fieldGuardKey},
	}
	if prev != "" {
		put.ConditionExpression = aws.String("#t = :prev")
		put.ExpressionAttributeNames = map[string]string{"#t": fieldSessionToken}
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: prev},
		}
	}
	return put
}

func (r *VerificationSessionRepo) unusedTokensByEmail(ctx context.Context, email string) ([]string, error) {
	var tokens []string
	var start map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(r.tableName),
			IndexName:                aws.String(indexEmail),
			KeyConditionExpression:   aws.String("#e = :e"),
			FilterExpression:         aws.String("#u = :f"),
			ProjectionExpression:     aws.String("#t"),
			ExpressionAttributeNames: map[string]string{"#e": fieldEmail, "#u": fieldIsUsed, "#t": fieldSessionToken},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":e": &types.AttributeValueMemberS{Value: email},
				":f": &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query sessions by email: %w", err)
		}
		for _, it := range out.Items {
			if v, ok := it[fieldSessionToken].(*types.AttributeValueMemberS); ok {
				tokens = append(tokens, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return tokens, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (r *VerificationSessionRepo) Get(ctx context.Context, sessionToken string) (*domain.VerificationSession, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldSessionToken, sessionToken),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification session: %w", domain.ErrSessionNotFound)
	}
	var s domain.VerificationSession
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IncrementAttempts atomically bumps the attempt counter while the session is
// unused and below maxAttempts, returning the updated session.
func (r *VerificationSessionRepo) IncrementAttempts(ctx context.Context, sessionToken string, maxAttempts int) (*domain.VerificationSession, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldSessionToken, sessionToken),
		UpdateExpression:    aws.String("SET #a = #a + :one"),
		ConditionExpression: aws.String("attribute_exists(#t) AND #u = :f AND #a < :max"),
		ExpressionAttributeNames: map[string]string{
			"#a": fieldAttempts, "#t": fieldSessionToken, "#u": fieldIsUsed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":max": &types.AttributeValueMemberN{Value: fmt.Sprint(maxAttempts)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, r.explainRejected(ctx, sessionToken)
		}
		return nil, err
	}
	var s domain.VerificationSession
	if err := attributevalue.UnmarshalMap(out.Attributes, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// explainRejected re-reads a session whose conditional update failed.
func (r *VerificationSessionRepo) explainRejected(ctx context.Context, sessionToken string) error {
	s, err := r.Get(ctx, sessionToken)
	if err != nil {
		return err
	}
	if s.IsUsed {
		return fmt.Errorf("verification session: %w", domain.ErrSessionAlreadyUsed)
	}
	return fmt.Errorf("verification session: %w", domain.ErrTooManyAttempts)
}

// MarkVerified flags an unused session as verified without consuming it.
func (r *VerificationSessionRepo) MarkVerified(ctx context.Context, sessionToken string) error {
	return r.setFlags(ctx, sessionToken, map[string]bool{fieldIsVerified: true})
}

// Consume flips is_used from false to true. Exactly one concurrent caller wins;
// the others get domain.ErrSessionAlreadyUsed.
func (r *VerificationSessionRepo) Consume(ctx context.Context, sessionToken string) error {
	return r.setFlags(ctx, sessionToken, map[string]bool{fieldIsUsed: true, fieldIsVerified: true})
}

func (r *VerificationSessionRepo) setFlags(ctx context.Context, sessionToken string, flags map[string]bool) error {
	updates := make(map[string]interface{}, len(flags))
	for k, v := range flags {
		updates[k] = v
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#t"] = fieldSessionToken
	ue.Names["#u"] = fieldIsUsed
	ue.Values[":f"] = &types.AttributeValueMemberBOOL{Value: false}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldSessionToken, sessionToken),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#t) AND #u = :f"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil && isConditionFailed(err) {
		if _, getErr := r.Get(ctx, sessionToken); errors.Is(getErr, domain.ErrSessionNotFound) {
			return getErr
		}
		return fmt.Errorf("verification session: %w", domain.ErrSessionAlreadyUsed)
	}
	return err
}

func (r *VerificationSessionRepo) Delete(ctx context.Context, sessionToken string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldSessionToken, sessionToken),
	})
	return err
}
