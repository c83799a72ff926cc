package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statesTransport(states ...State) *fakeTransport {
	return &fakeTransport{
		onFetch: func(ctx context.Context, n int, id string) (*Record, error) {
			i := n - 1
			if i >= len(states) {
				i = len(states) - 1
			}
			return &Record{ID: id, State: states[i]}, nil
		},
	}
}

func TestWaitForReachesTarget(t *testing.T) {
	transport := statesTransport(StateInitialized, StateInitialized, StateSubmitted, StateCompleted)
	metrics := NewMetrics()
	o := NewObserver(transport, testLogger(), metrics)

	record, err := o.WaitFor(context.Background(), "abc-1", StateCompleted, 10*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StateCompleted, record.State)
	assert.Equal(t, 4, transport.fetches)
}

func TestWaitForTimeoutReturnsLastRecord(t *testing.T) {
	transport := statesTransport(StateInitialized)
	o := NewObserver(transport, testLogger(), nil)

	start := time.Now()
	record, err := o.WaitFor(context.Background(), "abc-1", StateCompleted, 100*time.Millisecond, 500*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err, "a timeout is not an error")
	require.NotNil(t, record)
	assert.Equal(t, StateInitialized, record.State)
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitForTimeoutWithoutRecord(t *testing.T) {
	transport := &fakeTransport{onFetch: blockUntilDone}
	o := NewObserver(transport, testLogger(), nil)

	record, err := o.WaitFor(context.Background(), "abc-1", StateCompleted, 10*time.Millisecond, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestWaitForFetchError(t *testing.T) {
	boom := errors.New("not found")
	transport := &fakeTransport{
		onFetch: func(ctx context.Context, n int, id string) (*Record, error) {
			return nil, boom
		},
	}
	o := NewObserver(transport, testLogger(), nil)

	_, err := o.WaitFor(context.Background(), "abc-1", StateCompleted, 10*time.Millisecond, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestWaitForCancel(t *testing.T) {
	transport := statesTransport(StateSubmitted)
	o := NewObserver(transport, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	record, err := o.WaitFor(ctx, "abc-1", StateCompleted, time.Hour, time.Hour)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, record)
	assert.Equal(t, StateSubmitted, record.State)
}

func TestWaitForAsync(t *testing.T) {
	transport := statesTransport(StateInitialized, StateSubmitted)
	o := NewObserver(transport, testLogger(), nil)

	results := make([]<-chan WaitResult, 3)
	for i := range results {
		results[i] = o.WaitForAsync(context.Background(), "abc-1", StateSubmitted, 10*time.Millisecond, 5*time.Second)
	}
	for _, ch := range results {
		select {
		case res := <-ch:
			require.NoError(t, res.Err)
			assert.Equal(t, StateSubmitted, res.Record.State)
		case <-time.After(5 * time.Second):
			t.Fatal("wait did not finish")
		}
		_, open := <-ch
		assert.False(t, open)
	}
}

func TestWaitForDefaults(t *testing.T) {
	for _, tc := range []struct {
		state State
		wait  func(o *Observer) (*Record, error)
	}{
		{StateCompleted, func(o *Observer) (*Record, error) { return o.WaitForCompletion(context.Background(), "abc-1") }},
		{StateSubmitted, func(o *Observer) (*Record, error) { return o.WaitForSubmitted(context.Background(), "abc-1") }},
		{StateInitialized, func(o *Observer) (*Record, error) { return o.WaitForInitialized(context.Background(), "abc-1") }},
	} {
		t.Run(string(tc.state), func(t *testing.T) {
			transport := statesTransport(tc.state)
			record, err := tc.wait(NewObserver(transport, testLogger(), nil))
			require.NoError(t, err)
			assert.Equal(t, tc.state, record.State)
			assert.Equal(t, 1, transport.fetches)
		})
	}
}

func TestWaitForSubmittedKeepsPolling(t *testing.T) {
	transport := statesTransport(StateInitialized, StateSubmitted)
	start := time.Now()
	record, err := NewObserver(transport, testLogger(), nil).WaitForSubmitted(context.Background(), "abc-1")
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, record.State)
	assert.Equal(t, 2, transport.fetches)
	assert.GreaterOrEqual(t, time.Since(start), DefaultPollInterval)
}
