package main

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

type message struct {
	ID      string
	Receipt string
	Text    string
}

// Queue wraps the notification queue client.
type Queue struct {
	client *azqueue.QueueClient
}

func newQueue(connStr, name string) (*Queue, error) {
	opts := &azqueue.ClientOptions{ClientOptions: azcore.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: 3, TryTimeout: 10 * time.Second},
	}}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, name, opts)
	if err != nil {
		return nil, err
	}
	return &Queue{client: client}, nil
}

// Dequeue retrieves a single message from the queue, or nil when it is empty.
func (q *Queue) Dequeue(ctx context.Context) (*message, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	out := &message{}
	if m.MessageID != nil {
		out.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		out.Receipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		out.Text = *m.MessageText
	}
	return out, nil
}

// Delete removes a processed message from the queue.
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// InboxEntry is one pending-review notice for one administrator.
type InboxEntry struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	RequestType  string `json:"RequestType"`
	RequestedBy  string `json:"RequestedBy"`
	CreatedAt    string `json:"CreatedAt"`
	Read         bool   `json:"Read"`
}

// Inbox stores per-admin notices in Azure Table storage, partitioned by
// admin id.
type Inbox struct {
	table *aztables.Client
}

func newInbox(connStr, table string) (*Inbox, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Inbox{table: svc.NewClient(table)}, nil
}

// Upsert creates or replaces an inbox entry.
func (i *Inbox) Upsert(ctx context.Context, ent InboxEntry) error {
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = i.table.UpsertEntity(ctx, payload, nil)
	return err
}
