package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pairbot/internal/domain"
)

const (
	skPrefixState = "STATE#"
	skSummary     = "SUMMARY"
	skTimeLayout  = "2006-01-02T15:04:05.000000000Z07:00"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding the audit trail of pairing sessions.
// One partition per session: a STATE# item per transition and a SUMMARY item.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// stateSK uses a fixed-width timestamp so keys sort in time order;
// RFC3339Nano trims trailing zeros and does not.
func stateSK(ts time.Time) string {
	return skPrefixState + ts.UTC().Format(skTimeLayout)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// RecordTransition appends one lifecycle transition. Keys and TTL are derived
// when the caller leaves them empty.
func (c *Client) RecordTransition(ctx context.Context, rec domain.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("repository: RecordTransition: session id is required")
	}
	if rec.PK == "" {
		rec.PK = sessionPK(rec.SessionID)
	}
	if rec.SK == "" {
		rec.SK = stateSK(c.now())
	}
	if rec.TTL == 0 {
		rec.TTL = c.ttlValue()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                recordItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordTransition: %w", err)
	}
	return nil
}

// RecordSummary writes or replaces the terminal summary of a session.
func (c *Client) RecordSummary(ctx context.Context, sum domain.SessionSummary) error {
	if sum.SessionID == "" {
		return errors.New("repository: RecordSummary: session id is required")
	}
	sum.PK = sessionPK(sum.SessionID)
	sum.SK = skSummary
	if sum.EndedAt == "" {
		sum.EndedAt = c.now().UTC().Format(time.RFC3339)
	}
	if sum.TTL == 0 {
		sum.TTL = c.ttlValue()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      summaryItem(sum),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordSummary: %w", err)
	}
	return nil
}

// History returns up to limit transitions of a session in chronological order.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]domain.SessionRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixState},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: History query: %w", err)
	}

	recs := make([]domain.SessionRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: History unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Summary returns the terminal summary of a session; ok is false while the
// session has not ended or is unknown.
func (c *Client) Summary(ctx context.Context, sessionID string) (domain.SessionSummary, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skSummary},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionSummary{}, false, fmt.Errorf("repository: Summary get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionSummary{}, false, nil
	}
	sum, err := itemToSummary(out.Item)
	if err != nil {
		return domain.SessionSummary{}, false, fmt.Errorf("repository: Summary decode: %w", err)
	}
	return sum, true, nil
}

func recordItem(rec domain.SessionRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.PK},
		"SK":        &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId": &types.AttributeValueMemberS{Value: rec.SessionID},
		"phone":     &types.AttributeValueMemberS{Value: rec.Phone},
		"attempt":   &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempt)},
		"state":     &types.AttributeValueMemberS{Value: string(rec.State)},
		"detail":    &types.AttributeValueMemberS{Value: rec.Detail},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
	}
}

func summaryItem(sum domain.SessionSummary) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sum.PK},
		"SK":        &types.AttributeValueMemberS{Value: sum.SK},
		"sessionId": &types.AttributeValueMemberS{Value: sum.SessionID},
		"phone":     &types.AttributeValueMemberS{Value: sum.Phone},
		"outcome":   &types.AttributeValueMemberS{Value: string(sum.Outcome)},
		"reference": &types.AttributeValueMemberS{Value: sum.Reference},
		"attempts":  &types.AttributeValueMemberN{Value: strconv.Itoa(sum.Attempts)},
		"endedAt":   &types.AttributeValueMemberS{Value: sum.EndedAt},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(sum.TTL, 10)},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.SessionRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	state, err := strAttr(item, "state")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	attempt, err := intAttr(item, "attempt")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	id, _ := strAttr(item, "sessionId")
	phone, _ := strAttr(item, "phone")
	detail, _ := strAttr(item, "detail") // allow empty

	return domain.SessionRecord{
		PK:        pk,
		SK:        sk,
		SessionID: id,
		Phone:     phone,
		Attempt:   attempt,
		State:     domain.State(state),
		Detail:    detail,
	}, nil
}

func itemToSummary(item map[string]types.AttributeValue) (domain.SessionSummary, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	outcome, err := strAttr(item, "outcome")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	attempts, err := intAttr(item, "attempts")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	phone, _ := strAttr(item, "phone")
	ref, _ := strAttr(item, "reference")
	ended, _ := strAttr(item, "endedAt")

	return domain.SessionSummary{
		PK:        sessionPK(id),
		SK:        skSummary,
		SessionID: id,
		Phone:     phone,
		Outcome:   domain.Outcome(outcome),
		Reference: ref,
		Attempts:  attempts,
		EndedAt:   ended,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
