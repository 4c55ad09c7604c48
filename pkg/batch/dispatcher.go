// Package batch fans heterogeneous platform calls out over a bounded worker
// pool and collects results positionally.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/cxmware/cxm-go/pkg/client"
	"github.com/cxmware/cxm-go/pkg/logging"
	"github.com/cxmware/cxm-go/pkg/routes"
)

var (
	batchJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxm_batch_jobs_total",
		Help: "Total batch jobs by outcome",
	}, []string{"outcome"}) // "ok", "error"

	batchInlineTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cxm_batch_inline_total",
		Help: "Jobs executed inline by the submitter because the queue was full",
	})
)

// Config sizes the worker pool for one batch invocation.
type Config struct {
	// MinWorkers and MaxWorkers bound the pool. The pool is started at
	// MaxWorkers; MinWorkers is kept for configuration parity and
	// validation (min must not exceed max).
	MinWorkers int
	MaxWorkers int

	// QueueDepth is the submit queue capacity. When the queue is full the
	// submitting goroutine runs the job itself rather than blocking or
	// dropping it (backpressure via inline execution).
	QueueDepth int
}

// DefaultConfig returns the default pool sizing.
func DefaultConfig() Config {
	return Config{
		MinWorkers: 2,
		MaxWorkers: 2,
		QueueDepth: 10,
	}
}

// Job describes one call in a batch. Action routing: a recognized raw HTTP
// verb (get, post, create, put, update, patch, delete) dispatches directly;
// any other action is treated as a dynamic call name and resolved through
// the routes package, with Args as its positional arguments.
type Job struct {
	Action   string
	Path     string
	Options  client.Params
	Data     any
	BasePath string

	// Args are positional arguments for resolved (non-raw-verb) calls.
	Args []any
}

// Result is one slot of a batch outcome: a decoded payload or a captured
// error, never both.
type Result struct {
	Value any
	Err   error
}

// Dispatcher runs batches of jobs against a platform client.
type Dispatcher struct {
	client   *client.Client
	resolver *routes.Resolver
	config   Config
	logger   zerolog.Logger
}

// New creates a batch dispatcher. Non-positive config fields fall back to
// defaults; MaxWorkers is raised to MinWorkers when inverted.
func New(c *client.Client, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = def.MinWorkers
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}

	return &Dispatcher{
		client:   c,
		resolver: routes.NewResolver(c),
		config:   cfg,
		logger:   logging.NewLogger("cxm-batch"),
	}
}

// DispatchAll runs jobs concurrently and returns one result per job, in job
// order regardless of completion order. A job's failure is captured in its
// slot and never cancels siblings. The pool is owned by this invocation:
// the call blocks until every submitted job has drained.
func (d *Dispatcher) DispatchAll(ctx context.Context, jobs []Job) []Result {
	start := time.Now()
	results := make([]Result, len(jobs))

	type indexedJob struct {
		index int
		job   Job
	}

	queue := make(chan indexedJob, d.config.QueueDepth)

	var wg sync.WaitGroup
	for w := 0; w < d.config.MaxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				// Each worker writes a distinct slot; no lock needed.
				results[item.index] = d.run(ctx, item.job)
			}
		}()
	}

	for i, job := range jobs {
		select {
		case queue <- indexedJob{index: i, job: job}:
		default:
			// Queue full: the submitter absorbs the backpressure.
			batchInlineTotal.Inc()
			d.logger.Debug().Int("index", i).Msg("Queue full, running job inline")
			results[i] = d.run(ctx, job)
		}
	}

	close(queue)
	wg.Wait()

	d.logger.Debug().
		Int("jobs", len(jobs)).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return results
}

// run executes one job, capturing its error (or panic) in the result slot.
func (d *Dispatcher) run(ctx context.Context, job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("job panicked: %v", r)}
		}
		if res.Err != nil {
			batchJobsTotal.WithLabelValues("error").Inc()
		} else {
			batchJobsTotal.WithLabelValues("ok").Inc()
		}
	}()

	if client.IsRawVerb(job.Action) {
		value, err := d.client.Dispatch(ctx, client.Call{
			Action:   job.Action,
			Path:     job.Path,
			Options:  job.Options,
			Data:     job.Data,
			BasePath: job.BasePath,
		})
		return Result{Value: value, Err: err}
	}

	value, err := d.resolver.Call(ctx, job.Action, job.Args...)
	return Result{Value: value, Err: err}
}
