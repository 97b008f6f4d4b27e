// Package users stores shop accounts keyed by a stable id derived from the
// account email.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/aws"
)

var namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("users.shop-orderflow"))

// IDFor returns the user id for email. Emails are compared case-insensitively.
func IDFor(email string) string {
	return uuid.NewSHA1(namespace, []byte(normalize(email))).String()
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type User struct {
	ID     string `dynamodbav:"user_id" json:"_id"`
	Email  string `dynamodbav:"email" json:"email"`
	Role   string `dynamodbav:"role,omitempty" json:"role,omitempty"`
	Status string `dynamodbav:"status,omitempty" json:"status,omitempty"`
}

// Changes lists the fields a PATCH may set. Empty fields are left alone.
type Changes struct {
	Role   string
	Status string
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

// Upsert records a login: the user is created if absent, otherwise its
// role is refreshed.
func (s *Store) Upsert(ctx context.Context, email, role string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expr := "SET email = :e"
	values := map[string]types.AttributeValue{
		":e": &types.AttributeValueMemberS{Value: normalize(email)},
	}
	var names map[string]string
	if role != "" {
		expr += ", #r = :r"
		values[":r"] = &types.AttributeValueMemberS{Value: role}
		names = map[string]string{"#r": "role"}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(IDFor(email)),
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return User{}, apperr.Storage("could not save user", errors.Wrap(err, "upsert user"))
	}
	return unmarshalUser(out.Attributes)
}

// Register creates a user and fails with a conflict if the email is taken.
func (s *Store) Register(ctx context.Context, email, role string) (User, error) {
	u := User{ID: IDFor(email), Email: normalize(email), Role: role}
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return User{}, apperr.Storage("could not save user", errors.Wrap(err, "marshal user"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(user_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return User{}, apperr.Conflict("user already exists")
		}
		return User{}, apperr.Storage("could not save user", errors.Wrap(err, "put user"))
	}
	return u, nil
}

func (s *Store) List(ctx context.Context) ([]User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &dyn.ScanInput{TableName: &s.tableName}
	result := []User{}
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.Storage("could not list users", errors.Wrap(err, "scan"))
		}
		var page []User
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, apperr.Storage("could not list users", errors.Wrap(err, "unmarshal users"))
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Update applies c to an existing user.
func (s *Store) Update(ctx context.Context, id string, c Changes) (User, error) {
	var sets []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	if c.Role != "" {
		sets = append(sets, "#r = :r")
		names["#r"] = "role"
		values[":r"] = &types.AttributeValueMemberS{Value: c.Role}
	}
	if c.Status != "" {
		sets = append(sets, "#s = :s")
		names["#s"] = "status"
		values[":s"] = &types.AttributeValueMemberS{Value: c.Status}
	}
	if len(sets) == 0 {
		return User{}, apperr.Validation("nothing to update: set role or status", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(id),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       awsString("attribute_exists(user_id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return User{}, apperr.NotFound("user not found")
		}
		return User{}, apperr.Storage("could not update user", errors.Wrap(err, "update user"))
	}
	return unmarshalUser(out.Attributes)
}

func unmarshalUser(item map[string]types.AttributeValue) (User, error) {
	var u User
	if err := attributevalue.UnmarshalMap(item, &u); err != nil {
		return User{}, apperr.Storage("could not read user", errors.Wrap(err, "unmarshal user"))
	}
	return u, nil
}

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }
