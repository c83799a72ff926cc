package infra

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 10 * time.Second
)

// Observer polls the service until a transaction reaches a target state
type Observer struct {
	transport Transport
	logger    *log.Logger
	metrics   *Metrics
}

func NewObserver(transport Transport, logger *log.Logger, metrics *Metrics) *Observer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Observer{
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}
}

// WaitResult is delivered by WaitForAsync
type WaitResult struct {
	Record *Record
	Err    error
}

// WaitFor fetches the transaction every poll until its state equals target
// or timeout elapses. On timeout the last fetched record is returned with a
// nil error; it is nil when no fetch completed. Cancelling ctx stops the
// wait promptly and returns the last record together with ctx.Err().
func (o *Observer) WaitFor(ctx context.Context, requestID string, target State, poll, timeout time.Duration) (*Record, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	start := time.Now()
	defer func() {
		o.metrics.observeWait(time.Since(start).Seconds())
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry := o.logger.WithField("request", requestID)
	var last *Record
	for {
		record, err := o.transport.FetchTransaction(waitCtx, requestID)
		if err != nil {
			if waitCtx.Err() != nil {
				return o.interrupted(ctx, entry, last)
			}
			entry.Debugf("Fail to fetch transaction: %v", err)
			return last, err
		}
		last = record

		if record != nil && record.State == target {
			entry.Debugf("Reached %s after %s", target, time.Since(start))
			return record, nil
		}

		timer := time.NewTimer(poll)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return o.interrupted(ctx, entry, last)
		case <-timer.C:
		}
	}
}

func (o *Observer) interrupted(ctx context.Context, entry *log.Entry, last *Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		entry.Debugf("Wait cancelled: %v", err)
		return last, err
	}
	if last != nil {
		entry.Debugf("Wait timed out in state %s", last.State)
	} else {
		entry.Debug("Wait timed out before any record was fetched")
	}
	return last, nil
}

// WaitForAsync runs WaitFor on its own goroutine. The channel receives
// exactly one result and is then closed.
func (o *Observer) WaitForAsync(ctx context.Context, requestID string, target State, poll, timeout time.Duration) <-chan WaitResult {
	ch := make(chan WaitResult, 1)
	go func() {
		defer close(ch)
		record, err := o.WaitFor(ctx, requestID, target, poll, timeout)
		ch <- WaitResult{Record: record, Err: err}
	}()
	return ch
}

func (o *Observer) WaitForCompletion(ctx context.Context, requestID string) (*Record, error) {
	return o.WaitFor(ctx, requestID, StateCompleted, DefaultPollInterval, DefaultWaitTimeout)
}

func (o *Observer) WaitForSubmitted(ctx context.Context, requestID string) (*Record, error) {
	return o.WaitFor(ctx, requestID, StateSubmitted, DefaultPollInterval, DefaultWaitTimeout)
}

func (o *Observer) WaitForInitialized(ctx context.Context, requestID string) (*Record, error) {
	return o.WaitFor(ctx, requestID, StateInitialized, DefaultPollInterval, DefaultWaitTimeout)
}
