package main

import (
	"context"
	"time"

	"github.com/imrishuroy/shop-orderflow/internal/orders"
)

const (
	// metricName is the CloudWatch metric counted once per lifecycle event.
	metricName = "OrderLifecycleEvents"
	// eventKeyPrefix namespaces worker claims in the shared idempotency table.
	eventKeyPrefix = "event:"
)

// countEmitter is satisfied by aws.MetricEmitter.
type countEmitter interface {
	Count(ctx context.Context, metricName string, dimensions map[string]string, at time.Time) error
}

func eventKey(ev orders.LifecycleEvent) string {
	return eventKeyPrefix + ev.EventID
}

func dimensions(ev orders.LifecycleEvent) map[string]string {
	return map[string]string{
		"Type":   ev.Type,
		"Status": string(ev.To),
	}
}
