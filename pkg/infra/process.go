package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simbachain/simba-go/pkg/comm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	chMaxCapacity = 1e6
)

// Pipeline is every component needed to submit and observe calls
type Pipeline struct {
	Transport *HTTPTransport
	Signer    Signer
	Submitter *Submitter
	Observer  *Observer
	Metrics   *Metrics
}

func NewPipeline(c *Config, logger *log.Logger, metrics *Metrics) (*Pipeline, error) {
	client, err := comm.NewClient(c.ClientConfig())
	if err != nil {
		return nil, err
	}
	transport, err := NewHTTPTransport(client, c.App)
	if err != nil {
		return nil, err
	}
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	submitter, err := NewSubmitter(transport, signer, c.SubmitterConfig(), logger, metrics)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Transport: transport,
		Signer:    signer,
		Submitter: submitter,
		Observer:  NewObserver(transport, logger, metrics),
		Metrics:   metrics,
	}, nil
}

type process struct {
	config      *Config
	logger      *log.Logger
	metrics     *Metrics
	target      State
	timeKeepers *TimeKeepers
	reached     int64

	logCh    chan string
	reportCh chan string
	doneCh   chan struct{}
}

// Process runs every call of the calls file through the ordered queue and
// writes the per call log and the final report. Cancelling ctx aborts the queue.
func Process(ctx context.Context, c *Config, l *log.Logger) error {
	items, err := LoadWorkload(c.CallsFile)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.Errorf("no calls found in %s", c.CallsFile)
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err = metrics.Register(registry); err != nil {
		return errors.Wrap(err, "fail to register metrics")
	}

	pipeline, err := NewPipeline(c, l, metrics)
	if err != nil {
		return err
	}

	queueConfig := c.QueueConfig()
	p := &process{
		config:   c,
		logger:   l,
		metrics:  metrics,
		target:   queueConfig.TargetState,
		logCh:    make(chan string, chMaxCapacity),
		reportCh: make(chan string, chMaxCapacity),
		doneCh:   make(chan struct{}),
	}
	p.timeKeepers = NewTimeKeepers(len(items), p.logCh)

	queue, err := NewQueue(pipeline.Submitter, pipeline.Observer, queueConfig, l, metrics)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(p.writeLogToFile)
	if c.MetricsAddr != "" {
		g.Go(func() error {
			return p.serveMetrics(registry)
		})
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
			l.Warnf("Interrupted: %v", ctx.Err())
			queue.Abort()
		case <-queue.Done():
		}
		return nil
	})

	l.Infof("Start processing %d calls of %s as %s", len(items), c.App, pipeline.Signer.Address())
	startTime := time.Now()

	initiator := NewInitiator(queue, items, c.Rate, c.Burst, p.timeKeepers, p.handlerFor)
	enqueued, err := initiator.StartSync(ctx)
	if err != nil {
		l.Errorf("Stop after enqueuing %d of %d calls: %v", enqueued, len(items), err)
		queue.Abort()
	}

	// the queue drains what was enqueued, or fails it quickly after Abort
	queue.Shutdown(context.Background())
	duration := time.Since(startTime)
	l.Infof("Finish processing calls")

	p.report(len(items), enqueued, duration)

	close(p.doneCh)
	return g.Wait()
}

func (p *process) handlerFor(id int) Handler {
	return HandlerFuncs{
		Confirmed: func(record *Record) {
			if record.State == p.target {
				atomic.AddInt64(&p.reached, 1)
			}
			p.timeKeepers.keepObservedTime(id, routeConfirmed, record.ID)
			p.logCh <- fmt.Sprintf("%-10s %4d %s %s %s", "Confirmed", id, record.ID, record.State, record.TxHash)
		},
		TransactionError: func(err *SubmissionError) {
			p.timeKeepers.keepObservedTime(id, routeTransactionError, err.RequestID)
			p.logCh <- fmt.Sprintf("%-10s %4d %v", "Failed", id, err)
		},
		QueueError: func(err error) {
			p.timeKeepers.keepObservedTime(id, routeQueueError, "")
			p.logCh <- fmt.Sprintf("%-10s %4d %v", "Dropped", id, err)
		},
	}
}

// serveMetrics exposes the run's collectors until the run is over
func (p *process) serveMetrics(registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: p.config.MetricsAddr, Handler: mux}

	go func() {
		<-p.doneCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	p.logger.Infof("Serving metrics on %s/metrics", p.config.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "fail to serve metrics on %s", p.config.MetricsAddr)
	}
	return nil
}

// writeLogToFile receives and writes the following lines:
//
//	Enqueued: timestamp call-index method
//	Observed: timestamp call-index route request-id
//	Confirmed / Failed / Dropped: call-index details
//
// and the report lines to their own file
func (p *process) writeLogToFile() error {
	logFile, err := os.Create(p.config.LogPath)
	if err != nil {
		return errors.Wrapf(err, "fail to create log file %s", p.config.LogPath)
	}
	defer logFile.Close()

	reportFile, err := os.Create(p.config.ReportPath)
	if err != nil {
		return errors.Wrapf(err, "fail to create report file %s", p.config.ReportPath)
	}
	defer reportFile.Close()

	for {
		select {
		case s := <-p.logCh:
			logFile.WriteString(s + "\n")
		case s := <-p.reportCh:
			reportFile.WriteString(s + "\n")
		case <-p.doneCh:
			for len(p.logCh) > 0 {
				logFile.WriteString(<-p.logCh + "\n")
			}
			for len(p.reportCh) > 0 {
				reportFile.WriteString(<-p.reportCh + "\n")
			}
			return nil
		}
	}
}

func (p *process) report(total, enqueued int, duration time.Duration) {
	confirmed := p.metrics.Outcome(routeConfirmed)
	seconds := duration.Seconds()
	if seconds <= 0 {
		seconds = 1e-9
	}

	p.reportCh <- fmt.Sprintf("ALL Calls: %d", total)
	p.reportCh <- fmt.Sprintf("ENQUEUED Calls: %d", enqueued)
	p.reportCh <- fmt.Sprintf("CONFIRMED Calls: %.0f", confirmed)
	p.reportCh <- fmt.Sprintf("REACHED %s: %d", p.target, atomic.LoadInt64(&p.reached))
	p.reportCh <- fmt.Sprintf("TRANSACTION Errors: %.0f", p.metrics.Outcome(routeTransactionError))
	p.reportCh <- fmt.Sprintf("QUEUE Errors: %.0f", p.metrics.Outcome(routeQueueError))
	p.reportCh <- fmt.Sprintf("Signed Submissions: %.0f", getMetricVal(p.metrics.Submissions))
	p.reportCh <- fmt.Sprintf("Nonce Conflicts: %.0f", getMetricVal(p.metrics.Conflicts))
	p.reportCh <- fmt.Sprintf("Descriptor Retries: %.0f", getMetricVal(p.metrics.OuterRetries))
	p.reportCh <- fmt.Sprintf("Duration: %.3fs", seconds)
	p.reportCh <- fmt.Sprintf("Throughput: %.3f calls/s", confirmed/seconds)
	p.reportCh <- fmt.Sprintf("Average Latency: %.3fs", p.timeKeepers.getAverageTotalLatency())

	percentiles := []int{50, 75, 90, 95, 99, 100}
	for _, i := range percentiles {
		p.reportCh <- fmt.Sprintf("Latency [%d%%]: %.3fs", i, p.timeKeepers.getTotalLatencyOfPercentile(i))
	}

	p.reportCh <- fmt.Sprintf("id    %-24s %-18s latency(ms)", "method", "route")
	p.timeKeepers.mu.Lock()
	defer p.timeKeepers.mu.Unlock()
	for i, tk := range p.timeKeepers.transactions {
		latency := float64(tk.ObservedTime-tk.EnqueuedTime) / float64(1e6)
		if tk.EnqueuedTime == 0 || latency < 0.0 {
			latency = 0.0
		}
		p.reportCh <- fmt.Sprintf("%-5d %-24s %-18s %11.2f", i, tk.Method, tk.Route, latency)
	}
}
