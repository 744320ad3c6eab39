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

	"line-agent/internal/domain"
)

const (
	defaultRetention  = 24 * time.Hour
	defaultHistoryCap = 20
)

// ErrStorageUnavailable wraps backend I/O failures so callers can distinguish
// a storage outage from a malformed record.
var ErrStorageUnavailable = errors.New("storage unavailable")

// now is a package hook for tests.
var now = time.Now

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store keeps one conversation record per user in a DynamoDB table with a
// TTL attribute. Expiry is advisory: reads re-validate expiresAt themselves
// because physical TTL reclamation may lag.
type Store struct {
	api        dynamodbAPI
	tableName  string
	retention  time.Duration
	historyCap int
}

// Option configures a Store.
type Option func(*Store)

// WithRetention overrides the retention window applied on every append.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithHistoryCap overrides the maximum number of retained turns.
func WithHistoryCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// New creates a conversation Store backed by the given table.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &Store{
		api:        api,
		tableName:  tableName,
		retention:  defaultRetention,
		historyCap: defaultHistoryCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read returns the live ordered turn history for a user, or an empty slice
// when no record exists or the record's expiresAt has already passed.
func (s *Store) Read(ctx context.Context, userID string) ([]domain.Turn, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(now()) {
		return nil, nil
	}
	return rec.Turns, nil
}

// Append adds one completed turn (user message plus delivered assistant
// reply), refreshes the retention window, and trims the oldest turns beyond
// the history cap. Safe to call concurrently for the same user: the expiry
// refresh is last-write-wins and turn order reflects write order.
func (s *Store) Append(ctx context.Context, userID, userText, assistantText string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Append: userID is required")
	}

	rec, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	ts := now().UTC()
	var turns []domain.Turn
	if rec != nil && !rec.Expired(ts) {
		turns = rec.Turns
	}
	turns = append(turns,
		domain.Turn{Role: domain.RoleUser, Text: userText, Timestamp: ts},
		domain.Turn{Role: domain.RoleAssistant, Text: assistantText, Timestamp: ts},
	)
	if len(turns) > s.historyCap {
		turns = turns[len(turns)-s.historyCap:]
	}

	expiresAt := ts.Add(s.retention)
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      recordItem(userID, turns, expiresAt, ts),
	})
	if err != nil {
		return fmt.Errorf("repository: Append put: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, userID string) (*domain.ConversationRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"userId": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: get record: %w: %w", ErrStorageUnavailable, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: decode record: %w", err)
	}
	return &rec, nil
}

func recordItem(userID string, turns []domain.Turn, expiresAt, lastActivity time.Time) map[string]types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(turns))
	for _, t := range turns {
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role": &types.AttributeValueMemberS{Value: t.Role},
			"text": &types.AttributeValueMemberS{Value: t.Text},
			"ts":   &types.AttributeValueMemberS{Value: t.Timestamp.UTC().Format(time.RFC3339Nano)},
		}})
	}
	return map[string]types.AttributeValue{
		"userId":       &types.AttributeValueMemberS{Value: userID},
		"turns":        &types.AttributeValueMemberL{Value: list},
		"expiresAt":    &types.AttributeValueMemberS{Value: expiresAt.UTC().Format(time.RFC3339Nano)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		"lastActivity": &types.AttributeValueMemberS{Value: lastActivity.UTC().Format(time.RFC3339)},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.ConversationRecord, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	expiresRaw, err := strAttr(item, "expiresAt")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, expiresRaw)
	if err != nil {
		return domain.ConversationRecord{}, fmt.Errorf("repository: parse expiresAt: %w", err)
	}

	rec := domain.ConversationRecord{UserID: userID, ExpiresAt: expiresAt}

	v, ok := item["turns"]
	if !ok {
		return rec, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return domain.ConversationRecord{}, errors.New("repository: attribute \"turns\" is not a list")
	}
	for _, el := range list.Value {
		m, ok := el.(*types.AttributeValueMemberM)
		if !ok {
			return domain.ConversationRecord{}, errors.New("repository: turn entry is not a map")
		}
		turn, err := itemToTurn(m.Value)
		if err != nil {
			return domain.ConversationRecord{}, err
		}
		rec.Turns = append(rec.Turns, turn)
	}
	return rec, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	tsRaw, _ := strAttr(item, "ts") // allow absent on legacy rows
	var ts time.Time
	if tsRaw != "" {
		ts, err = time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return domain.Turn{}, fmt.Errorf("repository: parse turn ts: %w", err)
		}
	}
	return domain.Turn{Role: role, Text: text, Timestamp: ts}, nil
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
