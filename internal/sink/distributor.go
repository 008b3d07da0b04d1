package sink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	errs "github.com/thnyheim/misp2bro/internal/errors"
)

// Step names the operation a sensor result refers to.
type Step string

const (
	StepSync    Step = "sync"
	StepRestart Step = "restart"
	StepSkipped Step = "skipped"
)

// Result is the outcome for one sensor. Err is nil on success; Step tells
// where a failure happened.
type Result struct {
	Host     string
	Step     Step
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Distributor pushes a feed file to sensors and restarts them.
type Distributor struct {
	client      SensorClient
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
	failFast    bool
}

type DistributorOption func(*Distributor)

// WithTimeout bounds each sync and each restart separately.
func WithTimeout(d time.Duration) DistributorOption {
	return func(x *Distributor) { x.timeout = d }
}

func WithConcurrency(n int) DistributorOption {
	return func(x *Distributor) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithFailFast stops handing out sensors after the first failure.
func WithFailFast(on bool) DistributorOption {
	return func(x *Distributor) { x.failFast = on }
}

func WithLogger(l *zap.Logger) DistributorOption {
	return func(x *Distributor) { x.logger = l }
}

func NewDistributor(client SensorClient, opts ...DistributorOption) *Distributor {
	d := &Distributor{
		client:      client,
		logger:      zap.NewNop(),
		timeout:     2 * time.Minute,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Distribute returns one Result per host, in host order. The error joins a
// distribution error for every sensor that was not updated.
func (d *Distributor) Distribute(ctx context.Context, localPath string, hosts []string) ([]Result, error) {
	results := make([]Result, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Host: host, Step: StepSkipped, Err: err}
				d.report(results[i])
				return nil
			}
			res := d.one(gctx, localPath, host)
			results[i] = res
			d.report(res)
			if res.Err != nil && d.failFast {
				return res.Err
			}
			return nil
		})
	}
	_ = g.Wait() // failures are carried in results

	var failed []error
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, errs.Wrapf(errs.StageDistribution, r.Host, r.Err, "%s", r.Step))
		}
	}
	return results, errors.Join(failed...)
}

func (d *Distributor) one(ctx context.Context, localPath, host string) Result {
	start := time.Now()
	res := Result{Host: host}

	syncCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.client.Sync(syncCtx, localPath, host)
	cancel()
	if err != nil {
		res.Step, res.Err, res.Duration = StepSync, err, time.Since(start)
		return res
	}
	d.logger.Debug("synced feed to sensor", zap.String("sensor", host), zap.String("transport", d.client.Name()))

	restartCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = d.client.Restart(restartCtx, host)
	cancel()
	res.Step, res.Err, res.Duration = StepRestart, err, time.Since(start)
	return res
}

func (d *Distributor) report(r Result) {
	switch {
	case r.Err == nil:
		d.logger.Info("sensor updated", zap.String("sensor", r.Host), zap.Duration("took", r.Duration))
	case r.Step == StepSkipped:
		d.logger.Warn("sensor skipped", zap.String("sensor", r.Host), zap.Error(r.Err))
	default:
		d.logger.Error("sensor update failed", zap.String("sensor", r.Host), zap.String("step", string(r.Step)), zap.Error(r.Err))
	}
}
