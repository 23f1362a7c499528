// Package notify runs best-effort side effects after a state change has been
// committed. Jobs go onto a bounded queue drained by worker goroutines;
// enqueueing never blocks and delivery failures are logged and counted, never
// returned to the caller.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
)

const (
	sendTimeout  = 15 * time.Second
	drainTimeout = 5 * time.Second
)

// Job is one email to deliver. Kind labels it in logs ("ticket_confirmation").
type Job struct {
	Kind    string
	Message mailer.Message
}

// Stats are cumulative counters since start.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	sender  mailer.Sender
	log     logrus.FieldLogger
	queue   chan Job
	workers int

	enqueued atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// New builds a dispatcher. Call Run to start delivering.
func New(sender mailer.Sender, log logrus.FieldLogger, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		log:     log,
		queue:   make(chan Job, queueSize),
		workers: workers,
	}
}

// Enqueue schedules msg for delivery. It reports false when the queue is
// full and the job was dropped.
func (d *Dispatcher) Enqueue(kind string, msg mailer.Message) bool {
	select {
	case d.queue <- Job{Kind: kind, Message: msg}:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.log.WithFields(logrus.Fields{"kind": kind, "to": msg.To}).Warn("notification queue full, dropping")
		return false
	}
}

// Run delivers jobs until ctx is cancelled, then drains what is still queued
// within a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.queue:
					d.deliver(ctx, job)
				}
			}
		}()
	}
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-d.queue:
			d.deliver(drainCtx, job)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	log := d.log.WithFields(logrus.Fields{"kind": job.Kind, "to": job.Message.To})
	id, err := d.sender.Send(ctx, job.Message)
	if err != nil {
		d.failed.Add(1)
		log.WithError(err).Error("notification failed")
		return
	}
	d.sent.Add(1)
	log.WithField("message_id", id).Info("notification sent")
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued: d.enqueued.Load(),
		Sent:     d.sent.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
		Pending:  len(d.queue),
	}
}
