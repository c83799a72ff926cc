package infra

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultQueueCapacity = 100
	DefaultTargetState   = StateSubmitted
)

// Handler receives exactly one callback per queued call. Callbacks run on
// the worker goroutine: a handler that enqueues while the queue is full
// must bound the wait with its ctx, or enqueue from another goroutine.
type Handler interface {
	// OnConfirmed is called with the last record observed for the call,
	// whether or not it reached the target state before the timeout
	OnConfirmed(record *Record)
	// OnTransactionError is called when the call could not be submitted
	// or its record could not be read
	OnTransactionError(err *SubmissionError)
	// OnQueueError is called when the queue itself failed the call
	OnQueueError(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Confirmed        func(record *Record)
	TransactionError func(err *SubmissionError)
	QueueError       func(err error)
}

func (h HandlerFuncs) OnConfirmed(record *Record) {
	if h.Confirmed != nil {
		h.Confirmed(record)
	}
}

func (h HandlerFuncs) OnTransactionError(err *SubmissionError) {
	if h.TransactionError != nil {
		h.TransactionError(err)
	}
}

func (h HandlerFuncs) OnQueueError(err error) {
	if h.QueueError != nil {
		h.QueueError(err)
	}
}

type QueueConfig struct {
	Capacity     int
	PollInterval time.Duration
	Timeout      time.Duration
	TargetState  State
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultQueueCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultWaitTimeout
	}
	if c.TargetState == "" {
		c.TargetState = DefaultTargetState
	}
	return c
}

// Queue executes method calls one at a time in enqueue order. A call is
// submitted, then waited on, and only then is the next one started.
type Queue struct {
	submitter *Submitter
	observer  *Observer
	config    QueueConfig
	logger    *log.Logger
	metrics   *Metrics

	calls     chan *Call
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// closed and inflight guard the send side of calls
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue starts the worker goroutine
func NewQueue(submitter *Submitter, observer *Observer, config QueueConfig, logger *log.Logger, metrics *Metrics) (*Queue, error) {
	if submitter == nil || observer == nil {
		return nil, errors.New("submitter and observer are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		submitter: submitter,
		observer:  observer,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		calls:     make(chan *Call, config.Capacity),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go q.run()
	return q, nil
}

// Enqueue appends a call and returns its id. It blocks while the queue is
// full until space frees up, ctx is done or the queue is closed. A rejected
// call is reported to handler.OnQueueError and the same error is returned.
// Called from a handler with a full queue it waits on the worker itself,
// so only ctx can end that wait.
func (q *Queue) Enqueue(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment, handler Handler) (uuid.UUID, error) {
	if handler == nil {
		return uuid.Nil, errors.New("handler is required")
	}
	call := newCall(method, params, attachments, handler)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return call.ID, q.reject(call, ErrQueueClosed)
	}
	q.inflight.Add(1)
	q.mu.RUnlock()
	defer q.inflight.Done()

	select {
	case q.calls <- call:
		q.metrics.setQueueDepth(len(q.calls))
		q.logger.WithFields(log.Fields{"call": call.ID, "method": method}).Debug("Call enqueued")
		return call.ID, nil
	case <-q.closing:
		return call.ID, q.reject(call, ErrQueueClosed)
	case <-ctx.Done():
		return call.ID, q.reject(call, ctx.Err())
	}
}

func (q *Queue) reject(call *Call, cause error) error {
	err := &QueueExecutionError{CallID: call.ID, Err: cause}
	q.dispatch(call, outcome{route: routeQueueError, queueErr: err})
	return err
}

// Len returns the number of calls waiting for the worker
func (q *Queue) Len() int {
	return len(q.calls)
}

// Done is closed once the worker has exited
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Shutdown stops accepting calls and waits until every queued call has
// been executed, or until ctx is done.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.logger.Info("Shutting down submission queue")
	q.close()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort stops accepting calls, interrupts the running call and fails every
// queued call with ErrQueueAborted. It does not wait for the worker.
func (q *Queue) Abort() {
	q.logger.Warn("Aborting submission queue")
	q.cancel()
	q.close()
}

func (q *Queue) close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.closing)
		// blocked senders leave through closing
		q.inflight.Wait()
		close(q.calls)
	})
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.cancel()

	for call := range q.calls {
		q.metrics.setQueueDepth(len(q.calls))
		if q.ctx.Err() != nil {
			q.dispatch(call, outcome{
				route:    routeQueueError,
				queueErr: &QueueExecutionError{CallID: call.ID, Err: ErrQueueAborted},
			})
			continue
		}
		q.dispatch(call, q.integrate(call))
	}
	q.logger.Debug("Submission queue worker exited")
}
