package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/shop-orderflow/internal/aws"
	"github.com/imrishuroy/shop-orderflow/internal/config"
	"github.com/imrishuroy/shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/shop-orderflow/internal/logging"
)

const sampleEvent = `{"event_id":"local-event-1","type":"order.created","order_id":"local-order-1","to":"Pending"}`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewClients(context.Background(), aws.Options{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Fatalw("failed to init aws clients", "error", err)
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		clients.MetricEmitter(cfg.CloudWatchNamespace),
		logger.With("component", "worker"),
	)

	// RUN_LOCAL simulates a single SQS delivery, taking the body from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = sampleEvent
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatalw("local handler error", "error", err, "failures", resp.BatchItemFailures)
		}
		return
	}

	lambda.Start(p.Handle)
}
