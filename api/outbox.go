package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"admin-approvals/domain"
)

var (
	errOutboxSaturated = errors.New("notification outbox is saturated")
	errOutboxClosed    = errors.New("notification outbox is closed")
)

// OutboxConfig tunes the notification outbox. Zero values fall back to
// defaults.
type OutboxConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	SendTimeout    time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	MaxAttempts    int
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = c.Workers * 64
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

type outboxRecord struct {
	n       domain.Notification
	attempt int
}

// OutboxStats reports delivery counters.
type OutboxStats struct {
	Delivered uint64
	Dropped   uint64
}

// Outbox hands request notifications to a Sink from a pool of workers so
// request handlers never wait on the dispatcher.
type Outbox struct {
	cfg      OutboxConfig
	sink     Sink
	logger   *log.Logger
	workCh   chan *outboxRecord
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	mu        sync.RWMutex
	closing   bool
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewOutbox starts the outbox workers.
func NewOutbox(sink Sink, cfg OutboxConfig, logger *log.Logger) *Outbox {
	if sink == nil {
		panic("api.NewOutbox: sink is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	o := &Outbox{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		workCh: make(chan *outboxRecord, cfg.Buffer),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.workerWG.Add(1)
		go o.worker(i)
	}
	return o
}

// RequestCreated queues n for delivery. It waits at most the handoff timeout
// for buffer space.
func (o *Outbox) RequestCreated(_ context.Context, n domain.Notification) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closing {
		return errOutboxClosed
	}
	rec := &outboxRecord{n: n}
	if o.cfg.HandoffTimeout <= 0 {
		select {
		case o.workCh <- rec:
			return nil
		default:
			o.dropped.Add(1)
			return errOutboxSaturated
		}
	}

	timer := time.NewTimer(o.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case o.workCh <- rec:
		return nil
	case <-timer.C:
		o.dropped.Add(1)
		return errOutboxSaturated
	case <-o.stopCh:
		return errOutboxClosed
	}
}

// Stats returns the delivery counters.
func (o *Outbox) Stats() OutboxStats {
	return OutboxStats{Delivered: o.delivered.Load(), Dropped: o.dropped.Load()}
}

// Close stops accepting notifications, abandons pending retries and waits
// for queued notifications to be attempted once.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		close(o.stopCh)
		o.mu.Lock()
		o.closing = true
		o.mu.Unlock()
		o.retryWG.Wait()
		close(o.workCh)
		o.workerWG.Wait()
	})
}

func (o *Outbox) worker(id int) {
	defer o.workerWG.Done()
	for rec := range o.workCh {
		o.deliver(rec, id)
	}
}

func (o *Outbox) deliver(rec *outboxRecord, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SendTimeout)
	err := o.sink.Send(ctx, rec.n)
	cancel()
	if err == nil {
		o.delivered.Add(1)
		return
	}

	rec.attempt++
	fields := log.Fields{
		"worker":  workerID,
		"request": rec.n.RequestID,
		"attempt": rec.attempt,
	}
	if rec.attempt >= o.cfg.MaxAttempts {
		o.dropped.Add(1)
		o.logger.WithError(err).WithFields(fields).Error("notification dropped after max attempts")
		return
	}
	o.logger.WithError(err).WithFields(fields).Warn("notification delivery failed")
	o.scheduleRetry(rec)
}

func (o *Outbox) scheduleRetry(rec *outboxRecord) {
	o.mu.RLock()
	if o.closing {
		o.mu.RUnlock()
		o.dropped.Add(1)
		return
	}
	o.retryWG.Add(1)
	o.mu.RUnlock()

	delay := exponentialBackoff(rec.attempt, o.cfg.RetryInitial, o.cfg.RetryMax)
	timer := time.NewTimer(delay)
	go func() {
		defer o.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case o.workCh <- rec:
			case <-o.stopCh:
				o.dropped.Add(1)
			}
		case <-o.stopCh:
			o.dropped.Add(1)
		}
	}()
}

// exponentialBackoff doubles initial per attempt, caps it at max and adds
// up to 20% jitter.
func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	jitter := d * 0.2 * rand.Float64()
	return time.Duration(d + jitter)
}

// LogSink logs notifications instead of sending them. It is used when no
// notification queue is configured.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Send(_ context.Context, n domain.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"request":      n.RequestID,
		"type":         n.Type,
		"requested_by": n.RequestedBy,
	}).Info("request notification")
	return nil
}
