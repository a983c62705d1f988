// Package dynamo implements storage.Store on DynamoDB. One Store is
// bound to one table; the process holds two (core and guild chat).
package dynamo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Store wraps one DynamoDB table.
type Store struct {
	client  *dynamodb.Client
	table   string
	backoff storage.Backoff
	log     zerolog.Logger
}

// New builds a Store over an existing client.
func New(client *dynamodb.Client, table string, log zerolog.Logger) *Store {
	return &Store{
		client:  client,
		table:   table,
		backoff: storage.DefaultBackoff,
		log:     log.With().Str("component", "dynamo").Str("table", table).Logger(),
	}
}

// WithRetryHook installs fn to run before each throttling retry.
func (s *Store) WithRetryHook(fn func()) *Store {
	s.backoff.OnRetry = fn
	return s
}

// NewClient builds a DynamoDB client from ambient AWS config. endpoint
// overrides the API endpoint for local development.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (s *Store) Put(ctx context.Context, item storage.Item, cond storage.Condition) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("dynamo: marshal item: %w", err)
	}
	expr, names, values := buildCondition(cond)
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if expr != "" {
		in.ConditionExpression = aws.String(expr)
		in.ExpressionAttributeNames = names
		in.ExpressionAttributeValues = values
	}
	return s.backoff.Do(ctx, func() error {
		_, err := s.client.PutItem(ctx, in)
		return mapError(err)
	})
}

func (s *Store) Get(ctx context.Context, pk, sk string) (storage.Item, error) {
	var out *dynamodb.GetItemOutput
	err := s.backoff.Do(ctx, func() error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.table),
			Key:       keyAttrs(pk, sk),
		})
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}
	return unmarshalItem(out.Item)
}

func (s *Store) Delete(ctx context.Context, pk, sk string, cond storage.Condition) error {
	expr, names, values := buildCondition(cond)
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttrs(pk, sk),
	}
	if expr != "" {
		in.ConditionExpression = aws.String(expr)
		in.ExpressionAttributeNames = names
		in.ExpressionAttributeValues = values
	}
	return s.backoff.Do(ctx, func() error {
		_, err := s.client.DeleteItem(ctx, in)
		return mapError(err)
	})
}

func (s *Store) Update(ctx context.Context, in storage.UpdateInput) (storage.Item, error) {
	update, names, values, err := buildUpdate(in)
	if err != nil {
		return nil, err
	}
	condExpr, condNames, condValues := buildConditionWith(in.Condition, names, values, "c")
	req := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttrs(in.PK, in.SK),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  condNames,
		ExpressionAttributeValues: condValues,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if condExpr != "" {
		req.ConditionExpression = aws.String(condExpr)
	}
	var out *dynamodb.UpdateItemOutput
	err = s.backoff.Do(ctx, func() error {
		var err error
		out, err = s.client.UpdateItem(ctx, req)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return unmarshalItem(out.Attributes)
}

func (s *Store) TransactWrite(ctx context.Context, ops []storage.WriteOp) error {
	if len(ops) > storage.MaxTransactOps {
		return fmt.Errorf("dynamo: transaction exceeds %d ops", storage.MaxTransactOps)
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		switch {
		case op.Put != nil:
			av, err := attributevalue.MarshalMap(map[string]any(op.Put))
			if err != nil {
				return fmt.Errorf("dynamo: marshal transact put: %w", err)
			}
			put := &types.Put{TableName: aws.String(s.table), Item: av}
			if expr, names, values := buildCondition(op.Condition); expr != "" {
				put.ConditionExpression = aws.String(expr)
				put.ExpressionAttributeNames = names
				put.ExpressionAttributeValues = values
			}
			items = append(items, types.TransactWriteItem{Put: put})
		case op.Update != nil:
			update, names, values, err := buildUpdate(*op.Update)
			if err != nil {
				return err
			}
			cond := op.Condition
			if cond == nil {
				cond = op.Update.Condition
			}
			condExpr, condNames, condValues := buildConditionWith(cond, names, values, "c")
			upd := &types.Update{
				TableName:                 aws.String(s.table),
				Key:                       keyAttrs(op.Update.PK, op.Update.SK),
				UpdateExpression:          aws.String(update),
				ExpressionAttributeNames:  condNames,
				ExpressionAttributeValues: condValues,
			}
			if condExpr != "" {
				upd.ConditionExpression = aws.String(condExpr)
			}
			items = append(items, types.TransactWriteItem{Update: upd})
		case op.Delete != nil:
			del := &types.Delete{TableName: aws.String(s.table), Key: keyAttrs(op.Delete.PK, op.Delete.SK)}
			if expr, names, values := buildCondition(op.Condition); expr != "" {
				del.ConditionExpression = aws.String(expr)
				del.ExpressionAttributeNames = names
				del.ExpressionAttributeValues = values
			}
			items = append(items, types.TransactWriteItem{Delete: del})
		default:
			return fmt.Errorf("dynamo: empty transact op")
		}
	}
	return s.backoff.Do(ctx, func() error {
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		return mapError(err)
	})
}

func (s *Store) Query(ctx context.Context, in storage.QueryInput) (storage.QueryOutput, error) {
	pkAttr, skAttr, err := indexAttrs(in.Index)
	if err != nil {
		return storage.QueryOutput{}, err
	}

	names := map[string]string{"#pk": pkAttr}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: in.PartitionKey},
	}
	keyExpr := "#pk = :pk"
	if in.Sort != nil {
		names["#sk"] = skAttr
		switch in.Sort.Op {
		case storage.SortBeginsWith:
			keyExpr += " AND begins_with(#sk, :sk)"
			values[":sk"] = &types.AttributeValueMemberS{Value: in.Sort.Value}
		case storage.SortBetween:
			keyExpr += " AND #sk BETWEEN :sk AND :sk2"
			values[":sk"] = &types.AttributeValueMemberS{Value: in.Sort.Value}
			values[":sk2"] = &types.AttributeValueMemberS{Value: in.Sort.Upper}
		case storage.SortEq, storage.SortLT, storage.SortGT:
			keyExpr += fmt.Sprintf(" AND #sk %s :sk", in.Sort.Op)
			values[":sk"] = &types.AttributeValueMemberS{Value: in.Sort.Value}
		default:
			return storage.QueryOutput{}, fmt.Errorf("dynamo: unknown sort op %q", in.Sort.Op)
		}
	}

	req := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(in.Forward),
	}
	if in.Index != "" {
		req.IndexName = aws.String(in.Index)
	}
	if in.Limit > 0 {
		req.Limit = aws.Int32(int32(in.Limit))
	}
	if expr, fNames, fValues := buildConditionWith(in.Filter, names, values, "f"); expr != "" {
		req.FilterExpression = aws.String(expr)
		req.ExpressionAttributeNames = fNames
		req.ExpressionAttributeValues = fValues
	}
	if in.Cursor != "" {
		start, err := decodeCursor(in.Cursor)
		if err != nil {
			return storage.QueryOutput{}, err
		}
		req.ExclusiveStartKey = start
	}

	var out *dynamodb.QueryOutput
	err = s.backoff.Do(ctx, func() error {
		var err error
		out, err = s.client.Query(ctx, req)
		return mapError(err)
	})
	if err != nil {
		return storage.QueryOutput{}, err
	}

	result := storage.QueryOutput{Items: make([]storage.Item, 0, len(out.Items))}
	for _, av := range out.Items {
		item, err := unmarshalItem(av)
		if err != nil {
			return storage.QueryOutput{}, err
		}
		result.Items = append(result.Items, item)
	}
	if len(out.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return storage.QueryOutput{}, err
		}
		result.NextCursor = cursor
	}
	return result, nil
}

func indexAttrs(index string) (string, string, error) {
	switch index {
	case "":
		return storage.AttrPK, storage.AttrSK, nil
	case storage.IndexGSI1:
		return storage.AttrGSI1PK, storage.AttrGSI1SK, nil
	case storage.IndexGSI2:
		return storage.AttrGSI2PK, storage.AttrGSI2SK, nil
	case storage.IndexGSI3:
		return storage.AttrGSI3PK, storage.AttrGSI3SK, nil
	}
	return "", "", fmt.Errorf("dynamo: unknown index %q", index)
}

func keyAttrs(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		storage.AttrPK: &types.AttributeValueMemberS{Value: pk},
		storage.AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func unmarshalItem(av map[string]types.AttributeValue) (storage.Item, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(av, &m); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal item: %w", err)
	}
	return storage.Item(m), nil
}

// buildCondition renders a Condition into a fresh expression.
func buildCondition(cond storage.Condition) (string, map[string]string, map[string]types.AttributeValue) {
	return buildConditionWith(cond, nil, nil, "c")
}

// buildConditionWith renders cond reusing existing placeholder maps so
// it can share an expression namespace with an update or key condition.
func buildConditionWith(cond storage.Condition, names map[string]string, values map[string]types.AttributeValue, prefix string) (string, map[string]string, map[string]types.AttributeValue) {
	if len(cond) == 0 {
		return "", names, values
	}
	if names == nil {
		names = map[string]string{}
	}
	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	clauses := make([]string, 0, len(cond))
	for i, clause := range cond {
		name := fmt.Sprintf("#%s%d", prefix, i)
		names[name] = clause.Attr
		switch clause.Op {
		case storage.OpExists:
			clauses = append(clauses, fmt.Sprintf("attribute_exists(%s)", name))
		case storage.OpNotExists:
			clauses = append(clauses, fmt.Sprintf("attribute_not_exists(%s)", name))
		case storage.OpContains, storage.OpNotContains:
			val := fmt.Sprintf(":%s%d", prefix, i)
			values[val] = marshalScalar(clause.Value)
			expr := fmt.Sprintf("contains(%s, %s)", name, val)
			if clause.Op == storage.OpNotContains {
				expr = "NOT " + expr
			}
			clauses = append(clauses, expr)
		default:
			val := fmt.Sprintf(":%s%d", prefix, i)
			values[val] = marshalScalar(clause.Value)
			clauses = append(clauses, fmt.Sprintf("%s %s %s", name, clause.Op, val))
		}
	}
	return strings.Join(clauses, " AND "), names, values
}

func buildUpdate(in storage.UpdateInput) (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var sets, adds []string
	i := 0
	for attr, v := range in.Set {
		name, val := fmt.Sprintf("#u%d", i), fmt.Sprintf(":u%d", i)
		names[name] = attr
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return "", nil, nil, fmt.Errorf("dynamo: marshal update value %q: %w", attr, err)
		}
		values[val] = av
		sets = append(sets, fmt.Sprintf("%s = %s", name, val))
		i++
	}
	for attr, delta := range in.Add {
		name, val := fmt.Sprintf("#u%d", i), fmt.Sprintf(":u%d", i)
		names[name] = attr
		values[val] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)}
		adds = append(adds, fmt.Sprintf("%s %s", name, val))
		i++
	}
	for attr, members := range in.AddToSet {
		name, val := fmt.Sprintf("#u%d", i), fmt.Sprintf(":u%d", i)
		names[name] = attr
		values[val] = &types.AttributeValueMemberSS{Value: members}
		adds = append(adds, fmt.Sprintf("%s %s", name, val))
		i++
	}
	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		parts = append(parts, "ADD "+strings.Join(adds, ", "))
	}
	if len(parts) == 0 {
		return "", nil, nil, fmt.Errorf("dynamo: empty update")
	}
	return strings.Join(parts, " "), names, values, nil
}

func marshalScalar(v any) types.AttributeValue {
	switch n := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: n}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: n}
	case int:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
	case int64:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
	case float64:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", n)}
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return av
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(key, &m); err != nil {
		return "", fmt.Errorf("dynamo: encode cursor: %w", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("dynamo: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("dynamo: bad cursor: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dynamo: bad cursor: %w", err)
	}
	av, err := attributevalue.MarshalMap(m)
	if err != nil {
		return nil, fmt.Errorf("dynamo: bad cursor: %w", err)
	}
	return av, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var condFailed *types.ConditionalCheckFailedException
	var txCancelled *types.TransactionCanceledException
	var txConflict *types.TransactionConflictException
	var throughput *types.ProvisionedThroughputExceededException
	var capacity *types.RequestLimitExceeded
	switch {
	case errors.As(err, &condFailed):
		return storage.ErrConflict
	case errors.As(err, &txCancelled):
		for _, reason := range txCancelled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return storage.ErrConflict
			}
		}
		return storage.ErrConflict
	case errors.As(err, &txConflict):
		return storage.ErrConflict
	case errors.As(err, &throughput), errors.As(err, &capacity):
		return storage.ErrThrottled
	}
	var ise *types.InternalServerError
	if errors.As(err, &ise) {
		return fmt.Errorf("%w: %v", storage.ErrTransient, err)
	}
	return err
}
