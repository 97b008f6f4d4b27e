package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/shop-orderflow/internal/orders"
)

// Processor turns order lifecycle events from SQS into CloudWatch counts,
// at most once per event id.
type Processor struct {
	idempStore *idempotency.Store
	emitter    countEmitter
	logger     *zap.SugaredLogger
	nowFunc    func() time.Time
}

func NewProcessor(idempStore *idempotency.Store, emitter countEmitter, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		idempStore: idempStore,
		emitter:    emitter,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Handle processes a batch and reports failed records individually so SQS
// only redelivers those.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	p.logger.Debugw("received SQS batch", "records", len(ev.Records))

	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Errorw("worker error", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev orders.LifecycleEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return errors.Wrap(err, "invalid message body")
	}
	if ev.EventID == "" || ev.Type == "" || ev.OrderID == "" {
		return errors.Errorf("incomplete lifecycle event %q", rec.Body)
	}

	key := eventKey(ev)
	created, err := p.idempStore.CreateIfNotExists(ctx, key, ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "claim event")
	}
	if !created {
		claim, err := p.idempStore.Get(ctx, key)
		if err != nil {
			return errors.Wrap(err, "read event claim")
		}
		// IN_PROGRESS or FAILED claims belong to an attempt that did not finish
		if claim != nil && claim.Status == idempotency.StatusDone {
			p.logger.Infow("duplicate lifecycle event", "event_id", ev.EventID, "order_id", ev.OrderID)
			return nil
		}
	}

	at := ev.At
	if at.IsZero() {
		at = p.nowFunc()
	}
	if err := p.emitter.Count(ctx, metricName, dimensions(ev), at); err != nil {
		if merr := p.idempStore.MarkFailed(ctx, key, fmt.Sprintf("emit metric: %v", err)); merr != nil {
			p.logger.Warnw("mark event claim failed", "event_id", ev.EventID, "error", merr)
		}
		return errors.Wrap(err, "emit metric")
	}

	if err := p.idempStore.MarkDone(ctx, key, "", http.StatusOK); err != nil {
		// the datapoint is already sent; failing the record would count it twice
		p.logger.Warnw("mark event done failed", "event_id", ev.EventID, "error", err)
	}
	p.logger.Infow("processed lifecycle event",
		"event_id", ev.EventID,
		"type", ev.Type,
		"order_id", ev.OrderID,
		"status", ev.To)
	return nil
}
