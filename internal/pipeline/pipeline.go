// Package pipeline drives one conversion run: fetch the export, stop early
// when it has not changed, build the intel feed and push it to the sensors.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thnyheim/misp2bro/internal/digest"
	errs "github.com/thnyheim/misp2bro/internal/errors"
	"github.com/thnyheim/misp2bro/internal/feed"
	"github.com/thnyheim/misp2bro/internal/metrics"
	"github.com/thnyheim/misp2bro/internal/model"
	"github.com/thnyheim/misp2bro/internal/sink"
	"github.com/thnyheim/misp2bro/internal/source"
)

// Outcome is how a run finished when it did not fail before writing a feed.
type Outcome string

const (
	Published Outcome = metrics.OutcomePublished
	Unchanged Outcome = metrics.OutcomeUnchanged
	NoFeed    Outcome = metrics.OutcomeNoFeed
)

type ChangeDetector interface {
	HasChanged(ctx context.Context, digest string) (bool, error)
	// Differs compares without recording digest as seen.
	Differs(ctx context.Context, digest string) (bool, error)
}

type FeedBuilder interface {
	Build(events []model.Event) (*feed.Document, error)
}

type FeedWriter interface {
	Path() string
	Write(doc *feed.Document) (int64, error)
}

type Distributor interface {
	Distribute(ctx context.Context, localPath string, hosts []string) ([]sink.Result, error)
}

// Deps are the collaborators of a run. Distributor and Sensors may both be
// nil, which builds the feed without distributing it.
type Deps struct {
	Fetcher     source.Fetcher
	Parser      source.Parser
	Hasher      *digest.Hasher
	Detector    ChangeDetector
	Builder     FeedBuilder
	Writer      FeedWriter
	Sensors     func() ([]string, error)
	Distributor Distributor
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Options struct {
	ExportPath string // where the raw export is stored
	Force      bool   // rebuild and distribute an unchanged export
	DryRun     bool   // stop after writing the feed; the export is not marked as seen
}

// Report summarizes one run. Outcome is empty when the run failed before a
// feed was written.
type Report struct {
	RunID    string
	Outcome  Outcome
	Digest   string
	Records  int
	Skipped  int
	Sensors  []sink.Result
	Duration time.Duration
}

type Pipeline struct {
	d    Deps
	opts Options

	mu      sync.Mutex
	lastErr error
}

func New(d Deps, opts Options) (*Pipeline, error) {
	switch {
	case d.Fetcher == nil, d.Parser == nil, d.Hasher == nil, d.Detector == nil, d.Builder == nil, d.Writer == nil:
		return nil, errs.Wrap(errs.StageConfig, "pipeline", errors.New("missing collaborator"))
	case (d.Distributor == nil) != (d.Sensors == nil):
		return nil, errs.Wrap(errs.StageConfig, "pipeline", errors.New("distributor and sensor list go together"))
	case opts.ExportPath == "":
		return nil, errs.Wrap(errs.StageConfig, "pipeline", errors.New("export path is empty"))
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Pipeline{d: d, opts: opts}, nil
}

// Run executes one cycle. A non-nil error is fatal for the run, or reports
// sensors that were not updated when Outcome is Published.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{RunID: uuid.NewString()}
	log := p.d.Logger.With(zap.String("run_id", rep.RunID))

	err := p.run(ctx, log, rep)
	rep.Duration = time.Since(start)

	outcome := string(rep.Outcome)
	if err != nil {
		outcome = metrics.OutcomeError
		p.d.Metrics.ObserveError(errs.StageOf(err).String())
		log.Error("run failed",
			zap.String("stage", errs.StageOf(err).String()),
			zap.String("resource", errs.ResourceOf(err)),
			zap.Error(err))
	} else {
		log.Info("run finished", zap.String("outcome", outcome), zap.Duration("took", rep.Duration.Truncate(time.Millisecond)))
	}
	p.d.Metrics.ObserveRun(outcome, rep.Duration)
	log.Debug("metrics", zap.String("snapshot", p.d.Metrics.Dump()))

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return rep, err
}

// Healthy returns the error of the last run, if any.
func (p *Pipeline) Healthy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, rep *Report) error {
	n, err := p.d.Fetcher.Fetch(ctx, p.opts.ExportPath)
	if err != nil {
		return err
	}
	log.Info("fetched export", zap.String("source", p.d.Fetcher.Name()), zap.Int64("bytes", n))

	sum, err := p.d.Hasher.SumFile(p.opts.ExportPath)
	if err != nil {
		return errs.Wrap(errs.StageFetch, p.opts.ExportPath, err)
	}
	rep.Digest = sum

	detect := p.d.Detector.HasChanged
	if p.opts.DryRun {
		detect = p.d.Detector.Differs
	}
	changed, err := detect(ctx, sum)
	if err != nil {
		return err
	}
	if !changed {
		if !p.opts.Force {
			rep.Outcome = Unchanged
			log.Info("export unchanged", zap.String(p.d.Hasher.Algorithm(), sum))
			if prev := p.Healthy(); prev != nil {
				log.Warn("export unchanged but the previous run failed; use -force to rebuild",
					zap.String("stage", errs.StageOf(prev).String()),
					zap.NamedError("previous_error", prev))
			}
			return nil
		}
		log.Info("export unchanged, rebuilding anyway", zap.String(p.d.Hasher.Algorithm(), sum))
	} else {
		log.Info("export changed", zap.String(p.d.Hasher.Algorithm(), sum))
	}

	events, err := p.d.Parser.ParseFile(ctx, p.opts.ExportPath)
	if err != nil {
		return err
	}

	doc, err := p.d.Builder.Build(events)
	if errors.Is(err, feed.ErrNoFeed) {
		rep.Outcome = NoFeed
		log.Info("no qualifying attributes, feed left as is", zap.Int("events", len(events)))
		return nil
	}
	if err != nil {
		return err
	}
	rep.Records, rep.Skipped = len(doc.Records), doc.Skipped
	p.d.Metrics.AddSkipped(doc.Skipped)

	written, err := p.d.Writer.Write(doc)
	if err != nil {
		return errs.Wrap(errs.StageWrite, p.d.Writer.Path(), err)
	}
	rep.Outcome = Published
	p.d.Metrics.SetFeedRecords(len(doc.Records))
	log.Info("feed written",
		zap.String("path", p.d.Writer.Path()),
		zap.Int("events", doc.Events),
		zap.Int("attributes", doc.Attributes),
		zap.Int("records", len(doc.Records)),
		zap.Int("skipped", doc.Skipped),
		zap.Int64("bytes", written))

	if p.opts.DryRun || p.d.Distributor == nil {
		log.Info("distribution skipped", zap.Bool("dry_run", p.opts.DryRun))
		return nil
	}
	return p.distribute(ctx, log, rep)
}

func (p *Pipeline) distribute(ctx context.Context, log *zap.Logger, rep *Report) error {
	hosts, err := p.d.Sensors()
	if err != nil {
		return errs.Wrap(errs.StageConfig, "sensor list", err)
	}
	if len(hosts) == 0 {
		return errs.Wrap(errs.StageConfig, "sensor list", errors.New("no sensors configured"))
	}
	log.Info("distributing feed", zap.Int("sensors", len(hosts)))

	results, err := p.d.Distributor.Distribute(ctx, p.d.Writer.Path(), hosts)
	rep.Sensors = results
	for _, r := range results {
		status := "ok"
		switch {
		case r.Step == sink.StepSkipped:
			status = "skipped"
		case r.Err != nil:
			status = "failed"
		}
		p.d.Metrics.ObserveSensor(r.Host, status)
	}
	return err
}
