// Package dynamo persists the operator message log in a DynamoDB table so it
// survives restarts and is shared between replicas.
package dynamo

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

	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
	msglogsvc "github.com/zhouzirui/shopbot/backend/internal/service/msglog"
)

const (
	pkPrefix    = "LOG#"
	skPrefix    = "AT#"
	dayLayout   = "2006-01-02"
	ttlDuration = 30 * 24 * time.Hour
	// lookbackDays bounds how many daily partitions Recent will walk.
	lookbackDays = 7
)

// dynamodbAPI is the minimal DynamoDB interface required by LogStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// LogStore writes one item per record, partitioned by UTC day so the newest
// records are one Query away.
type LogStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ msglog.Store = (*LogStore)(nil)

func NewLogStore(api dynamodbAPI, tableName string) (*LogStore, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &LogStore{api: api, tableName: tableName, now: time.Now}, nil
}

func dayPK(t time.Time) string {
	return pkPrefix + t.UTC().Format(dayLayout)
}

func recordSK(rec msglog.Record) string {
	return skPrefix + rec.At.UTC().Format(time.RFC3339Nano) + "#" + rec.ID
}

func (s *LogStore) Append(ctx context.Context, rec msglog.Record) error {
	msglogsvc.Stamp(&rec)

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      recordItem(rec, s.now().Add(ttlDuration).Unix()),
	})
	if err != nil {
		return fmt.Errorf("dynamo: append log record: %w", err)
	}
	return nil
}

// Recent walks daily partitions newest first until limit records are found.
func (s *LogStore) Recent(ctx context.Context, limit int) ([]msglog.Record, error) {
	if limit <= 0 {
		limit = msglogsvc.DefaultCapacity
	}

	out := make([]msglog.Record, 0, limit)
	day := s.now().UTC()
	for i := 0; i < lookbackDays && len(out) < limit; i++ {
		res, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: dayPK(day)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ScanIndexForward: aws.Bool(false),
			Limit:            aws.Int32(int32(limit - len(out))),
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: query log partition %s: %w", dayPK(day), err)
		}
		for _, item := range res.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, fmt.Errorf("dynamo: decode log record: %w", err)
			}
			out = append(out, rec)
		}
		day = day.AddDate(0, 0, -1)
	}
	return out, nil
}

func recordItem(rec msglog.Record, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: dayPK(rec.At)},
		"SK":        &types.AttributeValueMemberS{Value: recordSK(rec)},
		"id":        &types.AttributeValueMemberS{Value: rec.ID},
		"direction": &types.AttributeValueMemberS{Value: string(rec.Direction)},
		"senderId":  &types.AttributeValueMemberS{Value: rec.SenderID},
		"outcome":   &types.AttributeValueMemberS{Value: rec.Outcome},
		"at":        &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.At.UnixMilli(), 10)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	optional := map[string]string{
		"conversationId": rec.ConversationID,
		"type":           rec.Type,
		"text":           rec.Text,
		"source":         string(rec.Source),
		"mood":           rec.Mood,
		"error":          rec.Error,
	}
	for key, value := range optional {
		if value != "" {
			item[key] = &types.AttributeValueMemberS{Value: value}
		}
	}
	return item
}

func itemToRecord(item map[string]types.AttributeValue) (msglog.Record, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return msglog.Record{}, err
	}
	at, err := intAttr(item, "at")
	if err != nil {
		return msglog.Record{}, err
	}

	return msglog.Record{
		ID:             id,
		Direction:      msglog.Direction(optStr(item, "direction")),
		SenderID:       optStr(item, "senderId"),
		ConversationID: optStr(item, "conversationId"),
		Type:           optStr(item, "type"),
		Text:           optStr(item, "text"),
		Source:         msglog.Source(optStr(item, "source")),
		Mood:           optStr(item, "mood"),
		Outcome:        optStr(item, "outcome"),
		Error:          optStr(item, "error"),
		At:             time.UnixMilli(at).UTC(),
	}, nil
}

func optStr(item map[string]types.AttributeValue, key string) string {
	v, _ := strAttr(item, key)
	return v
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
