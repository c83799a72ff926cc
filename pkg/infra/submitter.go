package infra

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts   = 3
	DefaultOuterAttempts = 1
	DefaultOuterDelay    = time.Second
)

// SubmitterConfig controls the nonce-conflict retry protocol
type SubmitterConfig struct {
	// MaxAttempts bounds the signed submissions of a single descriptor
	MaxAttempts int
	// OuterAttempts is the number of descriptors requested per call. 1 disables the outer loop.
	OuterAttempts int
	// OuterDelay is the pause before requesting a fresh descriptor
	OuterDelay time.Duration
	// Confirm, if set, is asked before a descriptor is signed
	Confirm func(d *Descriptor) bool
}

func (c SubmitterConfig) withDefaults() SubmitterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.OuterAttempts <= 0 {
		c.OuterAttempts = DefaultOuterAttempts
	}
	if c.OuterDelay < 0 {
		c.OuterDelay = DefaultOuterDelay
	}
	return c
}

// Submitter runs the request, sign, submit cycle of a method call and
// recovers from stale sequence numbers
type Submitter struct {
	transport Transport
	signer    Signer
	config    SubmitterConfig
	logger    *log.Logger
	metrics   *Metrics
}

func NewSubmitter(transport Transport, signer Signer, config SubmitterConfig, logger *log.Logger, metrics *Metrics) (*Submitter, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if signer == nil {
		return nil, ErrNoSigner
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Submitter{
		transport: transport,
		signer:    signer,
		config:    config.withDefaults(),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Submit submits a method call with the configured attempt budget
func (s *Submitter) Submit(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment) (*CallOutcome, error) {
	return s.SubmitWithAttempts(ctx, method, params, attachments, s.config.MaxAttempts)
}

// SubmitWithAttempts submits a method call. Each descriptor is signed and
// submitted at most maxAttempts times; on a conflict carrying a suggested
// nonce the same descriptor is re-signed with it. Failures are returned as
// *SubmissionError.
func (s *Submitter) SubmitWithAttempts(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment, maxAttempts int) (*CallOutcome, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	params = s.withSender(params)
	entry := s.logger.WithField("method", method)

	var (
		outcome      *CallOutcome
		lastConflict *ConflictError
		lastID       string
		attempts     int
		round        int
	)

	operation := func() error {
		round++
		if round > 1 {
			s.metrics.addOuterRetry()
			entry.Infof("Requesting a fresh transaction after nonce conflict (round %d/%d)", round, s.config.OuterAttempts)
		}

		d, err := s.transport.RequestTransaction(ctx, method, params, attachments)
		if err != nil {
			return backoff.Permanent(&SubmissionError{Method: method, Attempts: attempts, Err: err})
		}
		lastID = d.ID

		if s.config.Confirm != nil && !s.config.Confirm(d) {
			return backoff.Permanent(&SubmissionError{Method: method, RequestID: d.ID, Attempts: attempts, Err: ErrSignRejected})
		}

		result, n, conflict, err := s.submitDescriptor(ctx, entry.WithField("request", d.ID), method, d, maxAttempts)
		attempts += n
		if err != nil {
			if subErr, ok := err.(*SubmissionError); ok {
				subErr.Attempts = attempts
			}
			return backoff.Permanent(err)
		}
		if conflict != nil {
			lastConflict = conflict
			return conflict
		}
		outcome = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.config.OuterDelay), uint64(s.config.OuterAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	if err == nil {
		entry.WithField("request", outcome.RequestID).Debugf("Submitted after %d attempt(s)", attempts)
		return outcome, nil
	}

	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return nil, subErr
	}

	// out of attempts, or cancelled while waiting for the next round
	cause := err
	suggested := ""
	if lastConflict != nil {
		cause = lastConflict
		suggested = lastConflict.SuggestedNonce
	}
	entry.Warnf("Giving up after %d attempt(s): %v", attempts, cause)
	return nil, &SubmissionError{
		Method:         method,
		RequestID:      lastID,
		Attempts:       attempts,
		SuggestedNonce: suggested,
		Err:            cause,
	}
}

// submitDescriptor is the inner loop. It returns the conflict that ended
// the loop when the descriptor could not be submitted.
func (s *Submitter) submitDescriptor(ctx context.Context, entry *log.Entry, method string, d *Descriptor, maxAttempts int) (*CallOutcome, int, *ConflictError, error) {
	current := d
	remaining := maxAttempts
	attempts := 0

	for {
		signed, err := s.signer.Sign(current)
		if err != nil {
			return nil, attempts, nil, &SubmissionError{Method: method, RequestID: d.ID, Err: err}
		}

		attempts++
		s.metrics.addSubmission()
		err = s.transport.SubmitSigned(ctx, d.ID, signed)
		if err == nil {
			return &CallOutcome{RequestID: d.ID}, attempts, nil, nil
		}

		conflict, ok := asConflict(err)
		if !ok {
			return nil, attempts, nil, &SubmissionError{Method: method, RequestID: d.ID, Err: err}
		}
		s.metrics.addConflict()
		remaining--

		if remaining <= 0 || conflict.SuggestedNonce == "" {
			return nil, attempts, conflict, nil
		}
		entry.Debugf("Nonce %s rejected, re-signing with %s (%d attempt(s) left)", current.Nonce, conflict.SuggestedNonce, remaining)
		current = d.WithNonce(conflict.SuggestedNonce)
	}
}

// withSender adds the signer address as "from" unless the caller set it
func (s *Submitter) withSender(params map[string]interface{}) map[string]interface{} {
	addr := s.signer.Address()
	if addr == "" {
		return params
	}
	if _, ok := params["from"]; ok {
		return params
	}

	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["from"] = addr
	return out
}
