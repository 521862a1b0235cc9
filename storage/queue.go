package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"admin-approvals/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// NotificationQueue publishes request notifications to an Azure Storage queue
// consumed by the notifier service.
type NotificationQueue struct {
	client queueClient
}

// NewNotificationQueue creates a queue publisher from a storage connection string.
func NewNotificationQueue(connStr, queueName string) (*NotificationQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &NotificationQueue{client: client}, nil
}

// Send enqueues one notification message.
func (q *NotificationQueue) Send(ctx context.Context, n domain.Notification) error {
	data, err := sonic.MarshalString(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, data, nil)
	return err
}
