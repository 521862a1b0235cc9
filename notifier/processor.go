package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"admin-approvals/domain"
)

type adminLister interface {
	ListAdmins(ctx context.Context, excluding string) ([]domain.Actor, error)
}

type inboxWriter interface {
	Upsert(ctx context.Context, ent InboxEntry) error
}

type messageQueue interface {
	Dequeue(ctx context.Context) (*message, error)
	Delete(ctx context.Context, id, receipt string) error
}

type dispatcher struct {
	admins adminLister
	inbox  inboxWriter
	rc     *redis.Client
	logger *log.Logger
}

// process fans n out to every administrator except the requester. Failures
// for one admin do not stop delivery to the others; it returns the number
// of admins that received the notification.
func (d *dispatcher) process(ctx context.Context, n domain.Notification) (int, error) {
	admins, err := d.admins.ListAdmins(ctx, n.RequestedBy)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	payload, err := sonic.MarshalString(n)
	if err != nil {
		return 0, fmt.Errorf("encode notification: %w", err)
	}

	delivered := 0
	for _, admin := range admins {
		fields := log.Fields{"request": n.RequestID, "admin": admin.ID}
		entry := InboxEntry{
			PartitionKey: admin.ID,
			RowKey:       n.RequestID,
			RequestType:  string(n.Type),
			RequestedBy:  n.RequestedBy,
			CreatedAt:    n.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := d.inbox.Upsert(ctx, entry); err != nil {
			d.logger.WithError(err).WithFields(fields).Error("inbox write failed")
			continue
		}
		if d.rc != nil {
			if err := d.rc.Publish(ctx, domain.NotificationChannel(admin.ID), payload).Err(); err != nil {
				d.logger.WithError(err).WithFields(fields).Warn("notification publish failed")
			}
		}
		delivered++
	}
	d.logger.WithFields(log.Fields{
		"request":   n.RequestID,
		"admins":    len(admins),
		"delivered": delivered,
	}).Info("notification dispatched")
	return delivered, nil
}

// handle processes one queue message and deletes it. Malformed messages are
// deleted without processing. When the roster cannot be loaded the message
// is left on the queue so it becomes visible again after its timeout.
func (d *dispatcher) handle(ctx context.Context, q messageQueue, msg *message) {
	var n domain.Notification
	if err := sonic.UnmarshalString(msg.Text, &n); err != nil || n.RequestID == "" {
		d.logger.WithError(err).WithField("message", msg.ID).Warn("discarding malformed notification")
	} else if _, err := d.process(ctx, n); err != nil {
		d.logger.WithError(err).WithField("request", n.RequestID).Error("notification processing failed; leaving for redelivery")
		return
	}
	if err := q.Delete(ctx, msg.ID, msg.Receipt); err != nil {
		d.logger.WithError(err).WithField("message", msg.ID).Error("delete message failed")
	}
}

// run polls q until ctx is cancelled.
func (d *dispatcher) run(ctx context.Context, q messageQueue, pollInterval time.Duration) {
	for {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.WithError(err).Error("receive failed")
		}
		if msg != nil {
			d.handle(ctx, q, msg)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}
