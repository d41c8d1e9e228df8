package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix = "RUN#"
	skMeta   = "META"

	// inlineMarker replaces data: URIs, which exceed the 400KB item limit.
	inlineMarker = "inline"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements RunStore on DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func runPK(runID string) string {
	return pkPrefix + runID
}

func runKey(runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func storedImage(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return inlineMarker
	}
	return ref
}

func (s *DynamoStore) PutRun(ctx context.Context, run *RunRecord) error {
	now := s.now()
	if run.CreatedAt == 0 {
		run.CreatedAt = now.Unix()
	}
	run.UpdatedAt = now.Unix()

	rec := *run
	rec.FinalImage = storedImage(rec.FinalImage)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: runPK(run.RunID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(RunTTL).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	log.Debug().Str("runId", run.RunID).Str("state", run.State).Msg("Run record written")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       runKey(runID),
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var rec RunRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	rec.RunID = runID
	return &rec, nil
}

func (s *DynamoStore) UpdateRunState(ctx context.Context, runID string, u RunUpdate) error {
	u.FinalImage = storedImage(u.FinalImage)

	names := map[string]string{"#updatedAt": "updatedAt"}
	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
	}
	sets := []string{"#updatedAt = :updatedAt"}
	// All names go through placeholders; "state" and "error" are reserved words.
	for _, f := range u.fields() {
		names["#"+f[0]] = f[0]
		values[":"+f[0]] = &types.AttributeValueMemberS{Value: f[1]}
		sets = append(sets, fmt.Sprintf("#%s = :%s", f[0], f[0]))
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       runKey(runID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update run %s -> %s: %w", runID, u.State, err)
	}
	log.Debug().Str("runId", runID).Str("state", u.State).Msg("Run state updated")
	return nil
}
