// Package catalog serves read-only product queries.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/aws"
)

// FeaturedLimit is how many products the home page shows.
const FeaturedLimit = 6

type Product struct {
	ID           string    `dynamodbav:"product_id" json:"_id"`
	Title        string    `dynamodbav:"title" json:"title"`
	Description  string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Price        float64   `dynamodbav:"price" json:"price"`
	Category     string    `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Image        string    `dynamodbav:"image,omitempty" json:"image,omitempty"`
	ShowHome     bool      `dynamodbav:"show_home" json:"showHome"`
	ManagerEmail string    `dynamodbav:"manager_email,omitempty" json:"managerEmail,omitempty"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"createdAt"`
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	timeout   time.Duration
}

func NewStore(client aws.DynamoDBAPI, tableName string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{client: client, tableName: tableName, timeout: timeout}
}

// Featured returns at most FeaturedLimit products in store order.
func (s *Store) Featured(ctx context.Context) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := int32(FeaturedLimit)
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName: &s.tableName,
		Limit:     &limit,
	})
	if err != nil {
		return nil, apperr.Storage("could not list products", errors.Wrap(err, "scan featured"))
	}
	return unmarshalProducts(out.Items)
}

// ListAll returns every product, newest first.
func (s *Store) ListAll(ctx context.Context) ([]Product, error) {
	products, err := s.scan(ctx, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

// ListByManager returns the products managed by email.
func (s *Store) ListByManager(ctx context.Context, email string) ([]Product, error) {
	return s.scan(ctx, &dyn.ScanInput{
		TableName:                 &s.tableName,
		FilterExpression:          awsString("#m = :email"),
		ExpressionAttributeNames:  map[string]string{"#m": "manager_email"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":email": &types.AttributeValueMemberS{Value: email}},
	})
}

// Get returns (nil, nil) when the product does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, apperr.Storage("could not load product", errors.Wrap(err, "get item"))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, apperr.Storage("could not load product", errors.Wrap(err, "unmarshal product"))
	}
	return &p, nil
}

func (s *Store) scan(ctx context.Context, input *dyn.ScanInput) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := []Product{}
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.Storage("could not list products", errors.Wrap(err, "scan"))
		}
		page, err := unmarshalProducts(out.Items)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func unmarshalProducts(items []map[string]types.AttributeValue) ([]Product, error) {
	products := []Product{}
	if err := attributevalue.UnmarshalListOfMaps(items, &products); err != nil {
		return nil, apperr.Storage("could not list products", errors.Wrap(err, "unmarshal products"))
	}
	return products, nil
}

func awsString(s string) *string { return &s }
