package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-faster/errors"
)

// Message is one queue entry. GroupID and DeduplicationID are only sent to
// FIFO queues, where GroupID is mandatory.
type Message struct {
	Body            string
	GroupID         string
	DeduplicationID string
	// Attributes become String message attributes; empty values are dropped.
	Attributes map[string]string
}

// Publisher sends messages to a single SQS queue.
type Publisher struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send enqueues msg.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	if msg.Body == "" {
		return errors.New("empty message body")
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &msg.Body,
	}
	if p.fifo {
		if msg.GroupID == "" {
			return errors.New("fifo queue requires a message group id")
		}
		input.MessageGroupId = awsString(msg.GroupID)
		if msg.DeduplicationID != "" {
			input.MessageDeduplicationId = awsString(msg.DeduplicationID)
		}
	}
	for k, v := range msg.Attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{}
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

func awsString(s string) *string { return &s }
