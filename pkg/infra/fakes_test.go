package infra

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeTransport serves descriptors, submissions and records from callbacks.
// Unset callbacks succeed.
type fakeTransport struct {
	mu       sync.Mutex
	requests []string
	submits  []string
	fetches  int
	active   int
	maxBusy  int

	onRequest func(n int, method string, params map[string]interface{}) (*Descriptor, error)
	onSubmit  func(n int, id, payload string) error
	onFetch   func(ctx context.Context, n int, id string) (*Record, error)
}

func (f *fakeTransport) enter() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	if f.active > f.maxBusy {
		f.maxBusy = f.active
	}
}

func (f *fakeTransport) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
}

func (f *fakeTransport) RequestTransaction(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment) (*Descriptor, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.requests = append(f.requests, method)
	n := len(f.requests)
	f.mu.Unlock()

	if f.onRequest != nil {
		return f.onRequest(n, method, params)
	}
	return &Descriptor{ID: fmt.Sprintf("%s-%d", method, n), Nonce: "0"}, nil
}

func (f *fakeTransport) SubmitSigned(ctx context.Context, id, payload string) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.submits = append(f.submits, payload)
	n := len(f.submits)
	f.mu.Unlock()

	if f.onSubmit != nil {
		return f.onSubmit(n, id, payload)
	}
	return nil
}

func (f *fakeTransport) FetchTransaction(ctx context.Context, id string) (*Record, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.fetches++
	n := f.fetches
	f.mu.Unlock()

	if f.onFetch != nil {
		return f.onFetch(ctx, n, id)
	}
	return &Record{ID: id, State: StateSubmitted}, nil
}

func (f *fakeTransport) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeTransport) requestedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeTransport) busiest() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxBusy
}

// fakeSigner signs as "<id>@<nonce>" and remembers the nonces it saw
type fakeSigner struct {
	mu     sync.Mutex
	nonces []string
	err    error
}

func (s *fakeSigner) Sign(d *Descriptor) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.nonces = append(s.nonces, d.Nonce)
	return d.ID + "@" + d.Nonce, nil
}

func (s *fakeSigner) Address() string {
	return "0x00000000000000000000000000000000000000aa"
}

func (s *fakeSigner) signedNonces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nonces...)
}

// blockUntilDone waits for the fetch context like a request that never answers
func blockUntilDone(ctx context.Context, n int, id string) (*Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type event struct {
	route  string
	record *Record
	txErr  *SubmissionError
	qErr   error
}

// recorder is a Handler that forwards every callback to a channel
type recorder struct {
	ch chan event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 100)}
}

func (r *recorder) OnConfirmed(record *Record) {
	r.ch <- event{route: routeConfirmed, record: record}
}

func (r *recorder) OnTransactionError(err *SubmissionError) {
	r.ch <- event{route: routeTransactionError, txErr: err}
}

func (r *recorder) OnQueueError(err error) {
	r.ch <- event{route: routeQueueError, qErr: err}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no handler callback within 5s")
		return event{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected callback %s", e.route)
	case <-time.After(wait):
	}
}
