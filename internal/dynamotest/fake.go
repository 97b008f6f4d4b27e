// Package dynamotest provides an in-memory DynamoDB double for unit tests.
//
// It understands the small expression dialect the stores use: SET clauses
// with plain values, list_append and if_not_exists; conditions joined with
// AND built from attribute_exists, attribute_not_exists, = and <>; and
// single-equality key conditions on the table key or a global secondary
// index. Writes are serialized under one mutex, so conditional updates
// behave atomically the way DynamoDB's do.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type table struct {
	pk      string
	indexes map[string]string
	order   []string
	items   map[string]item
}

// Fake implements aws.DynamoDBAPI.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int
	err    error
}

func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by a string partition key. indexes maps
// a global secondary index name to its partition key attribute.
func (f *Fake) CreateTable(name, partitionKey string, indexes map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if indexes == nil {
		indexes = map[string]string{}
	}
	f.tables[name] = &table{pk: partitionKey, indexes: indexes, items: map[string]item{}}
}

// FailWith makes every subsequent call return err until it is reset with nil.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many times op (e.g. "UpdateItem") was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// MustPut marshals v with attributevalue and stores it, bypassing conditions.
func (f *Fake) MustPut(tableName string, v interface{}) {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		panic(fmt.Sprintf("dynamotest: marshal: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		panic("dynamotest: unknown table " + tableName)
	}
	key, err := keyOf(t, av)
	if err != nil {
		panic("dynamotest: " + err.Error())
	}
	t.put(key, av)
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	return f.err
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("dynamotest: missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + *name)}
	}
	return t, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := keyOf(t, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, t.items[key], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.put(key, clone(in.Item))
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	current, exists := t.items[key]
	ok, err := evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}

	next := clone(current)
	if !exists {
		next = clone(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applySet(*in.UpdateExpression, next, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.put(key, next)

	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = clone(next)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		if exists {
			out.Attributes = clone(current)
		}
	}
	return out, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	current, exists := t.items[key]
	ok, err := evalCondition(in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	out := &dyn.DeleteItemOutput{}
	if !exists {
		return out, nil
	}
	t.remove(key)
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = clone(current)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("dynamotest: query requires KeyConditionExpression")
	}
	attr := t.pk
	if in.IndexName != nil {
		idx, ok := t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %s", *in.IndexName)
		}
		attr = idx
	}
	lhs, rhs, ok := strings.Cut(*in.KeyConditionExpression, " = ")
	if !ok {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", *in.KeyConditionExpression)
	}
	if resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames) != attr {
		return nil, fmt.Errorf("dynamotest: key condition must target %s", attr)
	}
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
	}

	page, last, err := t.page(in.ExclusiveStartKey, in.Limit, func(it item) (bool, error) {
		got, ok := it[attr]
		if !ok || !equal(got, want) {
			return false, nil
		}
		return evalCondition(in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	})
	if err != nil {
		return nil, err
	}
	return &dyn.QueryOutput{Items: page, Count: int32(len(page)), LastEvaluatedKey: last}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	page, last, err := t.page(in.ExclusiveStartKey, in.Limit, func(it item) (bool, error) {
		return evalCondition(in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	})
	if err != nil {
		return nil, err
	}
	return &dyn.ScanOutput{Items: page, Count: int32(len(page)), LastEvaluatedKey: last}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type pending struct {
		t   *table
		key string
		it  item
	}
	writes := make([]pending, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		p := ti.Put
		if p == nil {
			return nil, errors.New("dynamotest: only Put is supported in transactions")
		}
		t, err := f.table(p.TableName)
		if err != nil {
			return nil, err
		}
		key, err := keyOf(t, p.Item)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(p.ConditionExpression, t.items[key], p.ExpressionAttributeNames, p.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			canceled = true
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			continue
		}
		writes = append(writes, pending{t: t, key: key, it: clone(p.Item)})
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.t.put(w.key, w.it)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (t *table) put(key string, it item) {
	if _, ok := t.items[key]; !ok {
		t.order = append(t.order, key)
	}
	t.items[key] = it
}

func (t *table) remove(key string) {
	delete(t.items, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// page walks items in insertion order. Like DynamoDB, Limit counts evaluated
// items before filtering.
func (t *table) page(start item, limit *int32, match func(item) (bool, error)) ([]item, item, error) {
	from := 0
	if len(start) > 0 {
		startKey, err := keyOf(t, start)
		if err != nil {
			return nil, nil, err
		}
		for i, k := range t.order {
			if k == startKey {
				from = i + 1
				break
			}
		}
	}
	var out []item
	evaluated := 0
	for i := from; i < len(t.order); i++ {
		it := t.items[t.order[i]]
		ok, err := match(it)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			out = append(out, clone(it))
		}
		evaluated++
		if limit != nil && int32(evaluated) >= *limit && i < len(t.order)-1 {
			return out, item{t.pk: it[t.pk]}, nil
		}
	}
	return out, nil, nil
}

func keyOf(t *table, it item) (string, error) {
	v, ok := it[t.pk]
	if !ok {
		return "", fmt.Errorf("dynamotest: missing key attribute %s", t.pk)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: key attribute %s must be a string", t.pk)
	}
	return s.Value, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func clone(it item) item {
	if it == nil {
		return item{}
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

func operand(tok string, it item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, bool) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := values[tok]
		return v, ok
	}
	v, ok := it[resolveName(tok, names)]
	return v, ok
}

func call(expr string) (fn string, args []string, ok bool) {
	open := strings.Index(expr, "(")
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, false
	}
	fn = strings.TrimSpace(expr[:open])
	for _, a := range strings.Split(expr[open+1:len(expr)-1], ",") {
		args = append(args, strings.TrimSpace(a))
	}
	return fn, args, true
}

func evalCondition(expr *string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	if it == nil {
		it = item{}
	}
	for _, term := range strings.Split(*expr, " AND ") {
		term = strings.TrimSpace(term)
		if fn, args, ok := call(term); ok {
			if len(args) != 1 {
				return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
			}
			_, present := it[resolveName(args[0], names)]
			switch fn {
			case "attribute_exists":
				if !present {
					return false, nil
				}
			case "attribute_not_exists":
				if present {
					return false, nil
				}
			default:
				return false, fmt.Errorf("dynamotest: unsupported function %q", fn)
			}
			continue
		}
		op := " = "
		if strings.Contains(term, " <> ") {
			op = " <> "
		}
		lhs, rhs, ok := strings.Cut(term, op)
		if !ok {
			return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
		}
		a, aok := operand(lhs, it, names, values)
		b, bok := operand(rhs, it, names, values)
		same := aok && bok && equal(a, b)
		if op == " = " && !same {
			return false, nil
		}
		if op == " <> " && same {
			return false, nil
		}
	}
	return true, nil
}

func applySet(expr string, it item, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("dynamotest: only SET updates are supported, got %q", expr)
	}
	for _, assignment := range splitTopLevel(strings.TrimPrefix(expr, "SET ")) {
		lhs, rhs, ok := strings.Cut(assignment, " = ")
		if !ok {
			return fmt.Errorf("dynamotest: bad assignment %q", assignment)
		}
		target := resolveName(strings.TrimSpace(lhs), names)
		v, err := evalValue(strings.TrimSpace(rhs), it, names, values)
		if err != nil {
			return err
		}
		it[target] = v
	}
	return nil
}

func evalValue(expr string, it item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	fn, args, isCall := call(expr)
	if !isCall {
		v, ok := operand(expr, it, names, values)
		if !ok {
			return nil, fmt.Errorf("dynamotest: unresolved operand %q", expr)
		}
		return v, nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("dynamotest: unsupported call %q", expr)
	}
	switch fn {
	case "list_append":
		a, aok := operand(args[0], it, names, values)
		b, bok := operand(args[1], it, names, values)
		if !aok || !bok {
			return nil, fmt.Errorf("dynamotest: list_append operand missing in %q", expr)
		}
		la, aok := a.(*types.AttributeValueMemberL)
		lb, bok := b.(*types.AttributeValueMemberL)
		if !aok || !bok {
			return nil, fmt.Errorf("dynamotest: list_append needs lists in %q", expr)
		}
		merged := make([]types.AttributeValue, 0, len(la.Value)+len(lb.Value))
		merged = append(merged, la.Value...)
		merged = append(merged, lb.Value...)
		return &types.AttributeValueMemberL{Value: merged}, nil
	case "if_not_exists":
		if v, ok := operand(args[0], it, names, values); ok {
			return v, nil
		}
		v, ok := operand(args[1], it, names, values)
		if !ok {
			return nil, fmt.Errorf("dynamotest: if_not_exists fallback missing in %q", expr)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("dynamotest: unsupported function %q", fn)
	}
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return reflect.DeepEqual(a, b)
	}
}
