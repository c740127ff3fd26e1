package pipeline

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/stayloop/guestops/pkg/logging"
)

// sqsAPI is the slice of the SQS client the queue uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the multi-process queue for deployments with more than one
// worker. Jobs ride SQS's at-least-once delivery; the dedupe and claim
// tables downstream absorb redeliveries.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

// NewSQSQueue creates the SQS-backed queue.
func NewSQSQueue(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue implements Queue.
func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("pipeline: sqs send: %w", err)
	}
	return nil
}

// Dequeue implements Queue with long polling. The returned ack deletes the
// message; an unacked job reappears after the visibility timeout.
func (q *SQSQueue) Dequeue(ctx context.Context) (Job, func(), error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			return Job{}, nil, fmt.Errorf("pipeline: sqs receive: %w", err)
		}
		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return Job{}, nil, ctx.Err()
			}
			continue
		}

		m := out.Messages[0]
		job, err := unmarshalJob([]byte(aws.ToString(m.Body)))
		if err != nil {
			// poison message: drop it so it stops redelivering
			q.logger.Error("dropping malformed job", "error", err)
			q.ack(ctx, m.ReceiptHandle)
			continue
		}
		handle := m.ReceiptHandle
		return job, func() { q.ack(context.WithoutCancel(ctx), handle) }, nil
	}
}

func (q *SQSQueue) ack(ctx context.Context, receiptHandle *string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		q.logger.Error("sqs delete failed", "error", err)
	}
}
