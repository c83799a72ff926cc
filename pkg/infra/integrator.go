package infra

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// outcome is the single result of a queued call, routed to one handler callback
type outcome struct {
	route    string
	record   *Record
	txErr    *SubmissionError
	queueErr error
}

// integrate submits a call, waits for its record and turns the result into
// an outcome. It never invokes the handler.
func (q *Queue) integrate(call *Call) (out outcome) {
	entry := q.logger.WithFields(log.Fields{"call": call.ID, "method": call.Method})

	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("Worker panicked: %v", r)
			out = queueFailure(call, errors.Errorf("worker panic: %v", r))
		}
	}()

	ctx := q.ctx
	result, err := q.submitter.Submit(ctx, call.Method, call.Params, call.Attachments)
	if err != nil {
		if ctx.Err() != nil {
			return queueFailure(call, ErrQueueAborted)
		}
		var subErr *SubmissionError
		if !errors.As(err, &subErr) {
			subErr = &SubmissionError{Method: call.Method, Err: err}
		}
		return outcome{route: routeTransactionError, txErr: subErr}
	}

	entry = entry.WithField("request", result.RequestID)
	entry.Debugf("Submitted, waiting for %s", q.config.TargetState)

	record, err := q.observer.WaitFor(ctx, result.RequestID, q.config.TargetState, q.config.PollInterval, q.config.Timeout)
	if err == nil && record != nil && record.State == q.config.TargetState {
		return outcome{route: routeConfirmed, record: record}
	}
	switch {
	case ctx.Err() != nil:
		return queueFailure(call, ErrQueueAborted)
	case err != nil:
		return outcome{route: routeTransactionError, txErr: &SubmissionError{
			Method:    call.Method,
			RequestID: result.RequestID,
			Err:       err,
		}}
	case record == nil:
		return outcome{route: routeTransactionError, txErr: &SubmissionError{
			Method:    call.Method,
			RequestID: result.RequestID,
			Err:       ErrRecordUnavailable,
		}}
	}

	entry.Infof("Wait timed out in state %s", record.State)
	return outcome{route: routeConfirmed, record: record}
}

func queueFailure(call *Call, cause error) outcome {
	return outcome{
		route:    routeQueueError,
		queueErr: &QueueExecutionError{CallID: call.ID, Err: cause},
	}
}

// dispatch invokes exactly one handler callback. A panicking handler is
// logged and never called again for the same call.
func (q *Queue) dispatch(call *Call, out outcome) {
	entry := q.logger.WithFields(log.Fields{"call": call.ID, "method": call.Method, "route": out.route})
	q.metrics.addOutcome(out.route)

	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("Handler panicked: %v", r)
		}
	}()

	switch out.route {
	case routeConfirmed:
		call.Handler.OnConfirmed(out.record)
	case routeTransactionError:
		entry.Warnf("Call failed: %v", out.txErr)
		call.Handler.OnTransactionError(out.txErr)
	default:
		entry.Warnf("Call not executed: %v", out.queueErr)
		call.Handler.OnQueueError(out.queueErr)
	}
}
