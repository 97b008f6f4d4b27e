package orders

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/aws"
)

const (
	EmailIndex  = "email-index"
	StatusIndex = "status-index"

	defaultTimeout = 5 * time.Second
)

var (
	// ErrStatusMismatch means a guarded write found the order missing or in a
	// different status than expected.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicateSubmission means the idempotency key of a transactional
	// create was already claimed.
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	timeout   time.Duration
	nowFunc   func() time.Time
}

type Option func(*Store)

// WithTimeout bounds every table call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now for updated_at bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		timeout:   defaultTimeout,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

// Create persists a new order. It never overwrites an existing id.
func (s *Store) Create(ctx context.Context, o Order) error {
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return apperr.Storage("could not save order", errors.Wrap(err, "marshal order"))
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return apperr.Conflict("order id already exists")
		}
		return apperr.Storage("could not save order", errors.Wrap(err, "put order"))
	}
	return nil
}

// CreateWithIdempotencyTransaction atomically writes the idempotency claim
// (guarded by attribute_not_exists(idempotency_key)) and the order.
// idempotencyItem must marshal to a map carrying idempotency_key.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, o Order) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return apperr.Storage("could not save order", errors.Wrap(err, "marshal idempotency item"))
	}
	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return apperr.Storage("could not save order", errors.Wrap(err, "marshal order"))
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return errors.Wrap(ErrDuplicateSubmission, "transaction canceled")
		}
		return apperr.Storage("could not save order", errors.Wrap(err, "transact write"))
	}
	return nil
}

// Get fetches an order by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, apperr.Storage("could not load order", errors.Wrap(err, "get item"))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, apperr.Storage("could not load order", errors.Wrap(err, "unmarshal order"))
	}
	return &o, nil
}

// ListByEmail returns the orders placed by email, in store order.
func (s *Store) ListByEmail(ctx context.Context, email string) ([]Order, error) {
	return s.queryIndex(ctx, EmailIndex, "email", email)
}

// ListByStatus returns every order currently in status.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	return s.queryIndex(ctx, StatusIndex, "status", string(status))
}

func (s *Store) queryIndex(ctx context.Context, index, attr, value string) ([]Order, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 &index,
		KeyConditionExpression:    awsString("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
	}
	var result []Order
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, apperr.Storage("could not list orders", errors.Wrapf(err, "query %s", index))
		}
		page, err := unmarshalOrders(out.Items)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return emptyIfNil(result), nil
}

// ListAll returns every order.
func (s *Store) ListAll(ctx context.Context) ([]Order, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	input := &dyn.ScanInput{TableName: &s.tableName}
	var result []Order
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.Storage("could not list orders", errors.Wrap(err, "scan"))
		}
		page, err := unmarshalOrders(out.Items)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return emptyIfNil(result), nil
}

// Delete removes an order. It reports whether anything was deleted; deleting
// a missing order is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	out, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:    &s.tableName,
		Key:          orderKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, apperr.Storage("could not delete order", errors.Wrap(err, "delete item"))
	}
	return len(out.Attributes) > 0, nil
}

// UpdateStatus moves the order from expected to ev.Status, appending ev to
// the tracking list in the same write. approvedAt is only written when
// non-nil. Returns the new image, or ErrStatusMismatch if the guard failed.
func (s *Store) UpdateStatus(ctx context.Context, id string, expected Status, ev TrackingEvent, approvedAt *time.Time) (*Order, error) {
	set := "SET #s = :new, #t = list_append(#t, :ev), updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: string(ev.Status)},
	}
	if approvedAt != nil {
		at, err := attributevalue.Marshal(approvedAt.UTC())
		if err != nil {
			return nil, apperr.Storage("could not update order", errors.Wrap(err, "marshal approved_at"))
		}
		set += ", approved_at = :at"
		values[":at"] = at
	}
	return s.guardedAppend(ctx, id, expected, ev, set, values)
}

// AppendTracking appends ev without changing status. The write is guarded by
// expected so a concurrent transition cannot leave a stale status in the log.
func (s *Store) AppendTracking(ctx context.Context, id string, expected Status, ev TrackingEvent) (*Order, error) {
	return s.guardedAppend(ctx, id, expected, ev,
		"SET #t = list_append(#t, :ev), updated_at = :ua",
		map[string]types.AttributeValue{})
}

func (s *Store) guardedAppend(ctx context.Context, id string, expected Status, ev TrackingEvent, set string, values map[string]types.AttributeValue) (*Order, error) {
	evList, err := attributevalue.Marshal([]TrackingEvent{ev})
	if err != nil {
		return nil, apperr.Storage("could not update order", errors.Wrap(err, "marshal tracking event"))
	}
	ua, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return nil, apperr.Storage("could not update order", errors.Wrap(err, "marshal updated_at"))
	}
	values[":ev"] = evList
	values[":ua"] = ua
	values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(id),
		UpdateExpression:          &set,
		ConditionExpression:       awsString("attribute_exists(order_id) AND #s = :expected"),
		ExpressionAttributeNames:  map[string]string{"#s": "status", "#t": "tracking"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrStatusMismatch
		}
		return nil, apperr.Storage("could not update order", errors.Wrap(err, "update item"))
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, apperr.Storage("could not update order", errors.Wrap(err, "unmarshal order"))
	}
	return &o, nil
}

func unmarshalOrders(items []map[string]types.AttributeValue) ([]Order, error) {
	var page []Order
	if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
		return nil, apperr.Storage("could not list orders", errors.Wrap(err, "unmarshal orders"))
	}
	return page, nil
}

func emptyIfNil(o []Order) []Order {
	if o == nil {
		return []Order{}
	}
	return o
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
