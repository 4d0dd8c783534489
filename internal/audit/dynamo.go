package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoLog.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// record is the stored item shape: pk "job#<id>", sk "ts#<unix-ms>" and
// the payload as a JSON string.
type record struct {
	PK      string `dynamodbav:"pk"`
	SK      string `dynamodbav:"sk"`
	Actor   string `dynamodbav:"actor"`
	Action  string `dynamodbav:"action"`
	Payload string `dynamodbav:"payload"`
}

// DynamoLog implements Log on a DynamoDB table with a pk/sk key schema.
type DynamoLog struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoLog(client DynamoAPI, table string) *DynamoLog {
	return &DynamoLog{client: client, table: table, now: time.Now}
}

func partitionKey(subjectID string) string {
	return "job#" + subjectID
}

func (l *DynamoLog) Append(ctx context.Context, actor, action, subjectID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	item, err := attributevalue.MarshalMap(record{
		PK:      partitionKey(subjectID),
		SK:      "ts#" + strconv.FormatInt(l.now().UnixMilli(), 10),
		Actor:   actor,
		Action:  action,
		Payload: string(body),
	})
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	if _, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put audit record: %w", err)
	}
	return nil
}

func (l *DynamoLog) List(ctx context.Context, subjectID string) ([]Event, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(subjectID)},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var events []Event
	for {
		out, err := l.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query audit records: %w", err)
		}

		var records []record
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
			return nil, fmt.Errorf("unmarshal audit records: %w", err)
		}
		for _, r := range records {
			events = append(events, toEvent(subjectID, r))
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return events, nil
}

func toEvent(subjectID string, r record) Event {
	ev := Event{SubjectID: subjectID, Actor: r.Actor, Action: r.Action}
	if ms, err := strconv.ParseInt(strings.TrimPrefix(r.SK, "ts#"), 10, 64); err == nil {
		ev.Timestamp = time.UnixMilli(ms).UTC()
	}
	if r.Payload != "" {
		_ = json.Unmarshal([]byte(r.Payload), &ev.Payload)
	}
	return ev
}
