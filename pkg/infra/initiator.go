package infra

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Initiator feeds work items into the queue at a bounded rate
type Initiator struct {
	queue       *Queue
	items       []*WorkItem
	limiter     *rate.Limiter
	timeKeepers *TimeKeepers
	handlerFor  func(id int) Handler
}

// NewInitiator limits enqueues to r per second with the given burst. r <= 0 is unlimited.
func NewInitiator(queue *Queue, items []*WorkItem, r, burst int, timeKeepers *TimeKeepers, handlerFor func(id int) Handler) *Initiator {
	limit := rate.Inf
	if r > 0 {
		limit = rate.Limit(r)
	}
	if burst < 1 {
		burst = 1
	}
	return &Initiator{
		queue:       queue,
		items:       items,
		limiter:     rate.NewLimiter(limit, burst),
		timeKeepers: timeKeepers,
		handlerFor:  handlerFor,
	}
}

// StartSync enqueues every item in order and returns once the last one
// is in the queue. It stops at the first rejected enqueue.
func (it *Initiator) StartSync(ctx context.Context) (int, error) {
	for i, item := range it.items {
		if err := it.limiter.Wait(ctx); err != nil {
			return i, err
		}

		enqueuedAt := time.Now()
		if _, err := it.queue.Enqueue(ctx, item.Method, item.Params, item.Attachments, it.handlerFor(i)); err != nil {
			return i, err
		}
		if it.timeKeepers != nil {
			it.timeKeepers.keepEnqueuedTime(i, item.Method, enqueuedAt)
		}
	}
	return len(it.items), nil
}
