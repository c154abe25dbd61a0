package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// QueuedMessage is a message taken from the event queue. It stays invisible
// to other consumers until its visibility timeout lapses or it is deleted.
type QueuedMessage struct {
	ID         string
	PopReceipt string
	Body       []byte
}

// EventQueue holds realtime events whose publication must be retried.
type EventQueue struct {
	queue *azqueue.QueueClient
}

// NewEventQueue creates an EventQueue from the given connection string.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

// Enqueue stores a message body.
func (q *EventQueue) Enqueue(ctx context.Context, body []byte) error {
	_, err := q.queue.EnqueueMessage(ctx, string(body), nil)
	return err
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q *EventQueue) Dequeue(ctx context.Context) (*QueuedMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &QueuedMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Body = []byte(*m.MessageText)
	}
	return msg, nil
}

// Delete removes a processed message.
func (q *EventQueue) Delete(ctx context.Context, msg *QueuedMessage) error {
	_, err := q.queue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}
