package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricEmitter publishes custom counters to CloudWatch under one namespace.
type MetricEmitter struct {
	client    CloudWatchAPI
	namespace string
}

func NewMetricEmitter(client CloudWatchAPI, namespace string) *MetricEmitter {
	return &MetricEmitter{client: client, namespace: namespace}
}

// Count records a single count datapoint for metricName with the given dimensions.
// Dimensions with empty values are dropped; CloudWatch rejects them.
func (e *MetricEmitter) Count(ctx context.Context, metricName string, dimensions map[string]string, at time.Time) error {
	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for name, value := range dimensions {
		if value == "" {
			continue
		}
		dims = append(dims, cwtypes.Dimension{
			Name:  sdkaws.String(name),
			Value: sdkaws.String(value),
		})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(e.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(metricName),
				Dimensions: dims,
				Timestamp:  sdkaws.Time(at),
				Unit:       cwtypes.StandardUnitCount,
				Value:      sdkaws.Float64(1),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
