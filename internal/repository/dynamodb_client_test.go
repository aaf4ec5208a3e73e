package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"pairbot/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func sAttr(item map[string]types.AttributeValue, key string) string {
	return item[key].(*types.AttributeValueMemberS).Value
}

func nAttr(item map[string]types.AttributeValue, key string) string {
	return item[key].(*types.AttributeValueMemberN).Value
}

func makeStateItem(sk string, attempt string, state domain.State) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberS{Value: "s1"},
		"phone":     &types.AttributeValueMemberS{Value: "+94769872326"},
		"attempt":   &types.AttributeValueMemberN{Value: attempt},
		"state":     &types.AttributeValueMemberS{Value: string(state)},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.ErrorContains(t, err, "api must not be nil")
	_, err = New(&fakeDynamo{}, "  ")
	require.ErrorContains(t, err, "table name")
}

func TestRecordTransition_ItemShape(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.RecordTransition(context.Background(), domain.SessionRecord{
		SessionID: "s1",
		Phone:     "+94769872326",
		Attempt:   2,
		State:     domain.StateRestarting,
		Detail:    "close 500",
	})
	require.NoError(t, err)

	in := db.lastPutInput
	require.NotNil(t, in)
	require.Equal(t, "test-table", *in.TableName)
	require.Contains(t, *in.ConditionExpression, "attribute_not_exists")
	require.Equal(t, "SESSION#s1", sAttr(in.Item, "PK"))
	require.Equal(t, "STATE#2026-03-01T12:00:00.000000000Z", sAttr(in.Item, "SK"))
	require.Equal(t, "RESTARTING", sAttr(in.Item, "state"))
	require.Equal(t, "close 500", sAttr(in.Item, "detail"))
	require.Equal(t, "2", nAttr(in.Item, "attempt"))
	require.Equal(t, "1774958400", nAttr(in.Item, "ttl"))
}

func TestStateSK_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		0,
		time.Microsecond,
		100 * time.Millisecond,
		120 * time.Millisecond,
		time.Second,
		time.Second + 5*time.Nanosecond,
	}
	for i := 1; i < len(offsets); i++ {
		earlier := stateSK(base.Add(offsets[i-1]))
		later := stateSK(base.Add(offsets[i]))
		require.Less(t, earlier, later, "%v vs %v", offsets[i-1], offsets[i])
	}
	require.Len(t, stateSK(base), len(stateSK(base.Add(123*time.Millisecond))))
}

func TestRecordTransition_RequiresSessionID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.RecordTransition(context.Background(), domain.SessionRecord{State: domain.StateExporting})
	require.ErrorContains(t, err, "session id is required")
	require.Nil(t, db.lastPutInput)
}

func TestRecordTransition_PutError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("throttled")})
	err := c.RecordTransition(context.Background(), domain.SessionRecord{SessionID: "s1"})
	require.ErrorContains(t, err, "throttled")
}

func TestRecordSummary_ItemShape(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.RecordSummary(context.Background(), domain.SessionSummary{
		SessionID: "s1",
		Phone:     "+94769872326",
		Outcome:   domain.OutcomeSuccess,
		Reference: "AbCd1234#xyz789",
		Attempts:  1,
	})
	require.NoError(t, err)

	in := db.lastPutInput
	require.Nil(t, in.ConditionExpression)
	require.Equal(t, "SESSION#s1", sAttr(in.Item, "PK"))
	require.Equal(t, "SUMMARY", sAttr(in.Item, "SK"))
	require.Equal(t, "success", sAttr(in.Item, "outcome"))
	require.Equal(t, "AbCd1234#xyz789", sAttr(in.Item, "reference"))
	require.Equal(t, "2026-03-01T12:00:00Z", sAttr(in.Item, "endedAt"))
	require.Equal(t, "1", nAttr(in.Item, "attempts"))
}

func TestHistory_ChronologicalQuery(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeStateItem("STATE#2026-03-01T12:00:00Z", "1", domain.StateInitializing),
		makeStateItem("STATE#2026-03-01T12:00:01Z", "1", domain.StateAwaitingPairRequest),
	}}}
	c := mustNewClient(t, db)

	recs, err := c.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, domain.StateInitializing, recs[0].State)
	require.Equal(t, domain.StateAwaitingPairRequest, recs[1].State)
	require.Equal(t, 1, recs[1].Attempt)
	require.True(t, *db.lastQueryIn.ScanIndexForward)
	require.Nil(t, db.lastQueryIn.Limit)

	_, err = c.History(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, *db.lastQueryIn.Limit)
}

func TestHistory_BadItem(t *testing.T) {
	item := makeStateItem("STATE#x", "one", domain.StateExporting)
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	c := mustNewClient(t, db)
	_, err := c.History(context.Background(), "s1", 0)
	require.ErrorContains(t, err, "unmarshal")
}

func TestHistory_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.History(context.Background(), "s1", 0)
	require.ErrorContains(t, err, "boom")
}

func TestSummary_Found(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"SK":        &types.AttributeValueMemberS{Value: "SUMMARY"},
		"sessionId": &types.AttributeValueMemberS{Value: "s1"},
		"outcome":   &types.AttributeValueMemberS{Value: "fatal"},
		"attempts":  &types.AttributeValueMemberN{Value: "5"},
	}}}
	c := mustNewClient(t, db)

	sum, ok, err := c.Summary(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OutcomeFatal, sum.Outcome)
	require.Equal(t, 5, sum.Attempts)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestSummary_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := c.Summary(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, ok)
}
