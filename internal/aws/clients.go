package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients holds the service clients built from one shared AWS config. main
// creates it once and hands the pieces to stores, publisher and emitter.
type Clients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

func NewClients(ctx context.Context, opts Options) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Clients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}, nil
}

// Publisher binds the SQS client to the lifecycle events queue.
func (c *Clients) Publisher(queueURL string) *Publisher {
	return NewPublisher(c.SQS, queueURL)
}

// MetricEmitter binds the CloudWatch client to namespace.
func (c *Clients) MetricEmitter(namespace string) *MetricEmitter {
	return NewMetricEmitter(c.CloudWatch, namespace)
}
