package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"todo-api/domain"
)

// EventQueue publishes directory change events to an Azure Storage queue.
type EventQueue struct {
	queue *azqueue.QueueClient
}

// NewEventQueue creates an EventQueue for the named queue.
func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

type eventMessage struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	TaskID int64        `json:"taskId"`
	Task   *domain.Task `json:"task,omitempty"`
	Time   int64        `json:"time"`
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return json.Marshal(eventMessage{
		ID:     uuid.NewString(),
		Type:   ev.Type,
		TaskID: ev.TaskID,
		Task:   ev.Task,
		Time:   ev.Time.UnixNano(),
	})
}

// Publish enqueues a single event.
func (q *EventQueue) Publish(ctx context.Context, ev domain.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// CreateQueue creates the queue if it does not exist.
func (q *EventQueue) CreateQueue(ctx context.Context) error {
	if _, err := q.queue.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}
