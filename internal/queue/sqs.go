package queue

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"webhook-proxy-go/internal/config"
)

// sqsMaxBatch is the SQS limit for receive and batch calls.
const sqsMaxBatch = 10

// SQSQueue is an Amazon SQS queue. Redelivery and dead-lettering are left to
// the visibility timeout and the queue's redrive policy.
type SQSQueue struct {
	svc               sqsiface.SQSAPI
	queueURL          string
	waitTime          int64
	visibilityTimeout int64
}

// NewSQSQueue creates an SQSQueue for cfg.QueueURL.
func NewSQSQueue(svc sqsiface.SQSAPI, cfg config.SQSConfig) *SQSQueue {
	return &SQSQueue{
		svc:               svc,
		queueURL:          cfg.QueueURL,
		waitTime:          cfg.WaitTimeSeconds,
		visibilityTimeout: cfg.VisibilityTimeoutSeconds,
	}
}

func (q *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	out, err := q.svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: aws.Int64(int64(min(max, sqsMaxBatch))),
		WaitTimeSeconds:     aws.Int64(q.waitTime),
		VisibilityTimeout:   aws.Int64(q.visibilityTimeout),
		AttributeNames: []*string{
			aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:     aws.StringValue(m.MessageId),
			Body:   []byte(aws.StringValue(m.Body)),
			handle: aws.StringValue(m.ReceiptHandle),
		}
		if n, err := strconv.Atoi(aws.StringValue(m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount])); err == nil && n > 0 {
			msg.Attempts = n - 1
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *SQSQueue) Ack(ctx context.Context, msgs []Message) error {
	for chunk := range slices.Chunk(msgs, sqsMaxBatch) {
		entries := make([]*sqs.DeleteMessageBatchRequestEntry, len(chunk))
		for i, m := range chunk {
			entries[i] = &sqs.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(m.handle),
			}
		}
		out, err := q.svc.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sqs delete batch: %w", err)
		}
		if err := batchFailures("delete", out.Failed); err != nil {
			return err
		}
	}
	return nil
}

// RetryAll makes every message visible again immediately.
func (q *SQSQueue) RetryAll(ctx context.Context, msgs []Message) error {
	for chunk := range slices.Chunk(msgs, sqsMaxBatch) {
		entries := make([]*sqs.ChangeMessageVisibilityBatchRequestEntry, len(chunk))
		for i, m := range chunk {
			entries[i] = &sqs.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				ReceiptHandle:     aws.String(m.handle),
				VisibilityTimeout: aws.Int64(0),
			}
		}
		out, err := q.svc.ChangeMessageVisibilityBatchWithContext(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sqs change visibility batch: %w", err)
		}
		if err := batchFailures("change visibility", out.Failed); err != nil {
			return err
		}
	}
	return nil
}

func batchFailures(op string, failed []*sqs.BatchResultErrorEntry) error {
	if len(failed) == 0 {
		return nil
	}
	codes := make([]string, len(failed))
	for i, f := range failed {
		codes[i] = aws.StringValue(f.Id) + ":" + aws.StringValue(f.Code)
	}
	return fmt.Errorf("sqs %s batch: %d entries failed (%s)", op, len(failed), strings.Join(codes, ", "))
}
