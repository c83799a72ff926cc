package infra

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimeKeepers tracks when each call of a run was enqueued and when its
// handler was invoked
type TimeKeepers struct {
	mu                 sync.Mutex
	logCh              chan string
	transactions       []*TimeKeeper
	totalLatencySorted []int64
}

type TimeKeeper struct {
	Method       string
	Route        string
	RequestID    string
	EnqueuedTime int64
	ObservedTime int64
}

// NewTimeKeepers keeps n calls. Each timestamp is also written to logCh when it is not nil.
func NewTimeKeepers(n int, logCh chan string) *TimeKeepers {
	tks := &TimeKeepers{
		logCh:        logCh,
		transactions: make([]*TimeKeeper, n),
	}
	for i := range tks.transactions {
		tks.transactions[i] = &TimeKeeper{}
	}
	return tks
}

func (tks *TimeKeepers) log(s string) {
	if tks.logCh != nil {
		tks.logCh <- s
	}
}

func (tks *TimeKeepers) keepEnqueuedTime(id int, method string, at time.Time) {
	enqueuedTime := at.UnixNano()
	tks.log(fmt.Sprintf("%-10s %d %4d %s", "Enqueued", enqueuedTime, id, method))

	tks.mu.Lock()
	defer tks.mu.Unlock()
	tks.transactions[id].Method = method
	tks.transactions[id].EnqueuedTime = enqueuedTime
}

func (tks *TimeKeepers) keepObservedTime(id int, route string, requestID string) {
	observedTime := time.Now().UnixNano()
	tks.log(fmt.Sprintf("%-10s %d %4d %s %s", "Observed", observedTime, id, route, requestID))

	tks.mu.Lock()
	defer tks.mu.Unlock()
	tks.transactions[id].Route = route
	tks.transactions[id].RequestID = requestID
	tks.transactions[id].ObservedTime = observedTime
	tks.totalLatencySorted = nil
}

// totalLatencies returns the enqueue to handler latency of every finished call
func (tks *TimeKeepers) totalLatencies() []int64 {
	var result []int64
	for _, tk := range tks.transactions {
		if tk.EnqueuedTime == 0 || tk.ObservedTime == 0 {
			continue
		}
		latency := tk.ObservedTime - tk.EnqueuedTime
		if latency < 0 {
			latency = 0
		}
		result = append(result, latency)
	}
	return result
}

func (tks *TimeKeepers) getAverageTotalLatency() float64 {
	tks.mu.Lock()
	defer tks.mu.Unlock()

	latencies := tks.totalLatencies()
	if len(latencies) == 0 {
		return 0
	}
	var result int64 = 0
	for _, l := range latencies {
		result += l
	}
	return float64(result) / float64(len(latencies)) / 1e9
}

func (tks *TimeKeepers) getTotalLatencyOfPercentile(p int) float64 {
	tks.mu.Lock()
	defer tks.mu.Unlock()

	if tks.totalLatencySorted == nil {
		tks.sortTotalLatency()
	}
	n := len(tks.totalLatencySorted)
	if n == 0 {
		return 0
	}

	index := int(float64(p) / 100.0 * float64(n))
	if index < 0 {
		index = 0
	} else if index >= n {
		index = n - 1
	}
	return float64(tks.totalLatencySorted[index]) / 1e9
}

func (tks *TimeKeepers) sortTotalLatency() {
	tks.totalLatencySorted = tks.totalLatencies()
	sort.Slice(
		tks.totalLatencySorted,
		func(i, j int) bool {
			return tks.totalLatencySorted[i] < tks.totalLatencySorted[j]
		},
	)
}
