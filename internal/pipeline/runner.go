// Package pipeline runs the streams of one or more sources into a sink and
// advances their watermarks.
//
// # Overview
//
// A run is sequential: streams execute one after another in source order,
// and each stream pulls one page at a time from its iterator. For every page
// the runner:
//   - folds the stream's cursor field into a per-tenant maximum
//   - hands the page to the sink
//   - records page and row metrics
//
// Watermarks are saved only once a stream's iterator is exhausted without
// error. A failed stream keeps its previous watermarks, so the next run
// re-fetches whatever it had already emitted; sinks must tolerate that
// (merge streams upsert, append streams may see duplicates).
//
// # Basic Usage
//
//	runner := pipeline.NewRunner(
//	    []core.Source{erpSource, driveSource},
//	    sink,
//	    store,
//	    pipeline.Options{FailFast: false},
//	    logger,
//	)
//	summary, err := runner.Run(ctx)
//
// By default a failing stream does not stop the others; Run returns the
// joined stream errors at the end. FailFast stops at the first failure.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/logger"
	"github.com/ajitpratap0/tidemark/pkg/metrics"
	"github.com/ajitpratap0/tidemark/pkg/observability"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

// Stream run outcomes, used as the status label of tidemark_stream_runs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Options controls a run.
type Options struct {
	// Streams limits the run to the named streams. Empty runs everything.
	Streams []string
	// FailFast stops the run at the first failed stream.
	FailFast bool
	// DryRun pulls every page but writes nothing and saves no watermark.
	DryRun bool
}

// Runner executes streams.
type Runner struct {
	sources []core.Source
	sink    core.Sink
	store   watermark.Store
	opts    Options
	logger  *zap.Logger
}

// StreamResult describes one stream's run.
type StreamResult struct {
	Source   string
	Stream   string
	Status   string
	Pages    int
	Records  int
	Duration time.Duration
	// Saved holds the watermarks persisted at the end of the stream.
	Saved map[string]string
	Err   error
}

// Summary describes a whole run.
type Summary struct {
	RunID   string
	Results []StreamResult
}

// Failed returns the results of failed streams.
func (s *Summary) Failed() []StreamResult {
	var out []StreamResult
	for _, r := range s.Results {
		if r.Status == StatusFailure {
			out = append(out, r)
		}
	}
	return out
}

// NewRunner creates a runner. The sink and store are not closed by the
// runner.
func NewRunner(sources []core.Source, sink core.Sink, store watermark.Store, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = logger.Get()
	}
	return &Runner{
		sources: sources,
		sink:    sink,
		store:   store,
		opts:    opts,
		logger:  log.With(zap.String("component", "runner")),
	}
}

type plannedStream struct {
	source core.Source
	stream *core.Stream
}

// plan returns the streams the run will execute, in order. Names in
// Options.Streams that match no stream are a config error.
func (r *Runner) plan() ([]plannedStream, error) {
	wanted := make(map[string]bool, len(r.opts.Streams))
	for _, name := range r.opts.Streams {
		wanted[name] = false
	}

	var plan []plannedStream
	for _, src := range r.sources {
		for _, stream := range src.Streams() {
			if len(wanted) > 0 {
				if _, ok := wanted[stream.Name]; !ok {
					continue
				}
				wanted[stream.Name] = true
			}
			plan = append(plan, plannedStream{source: src, stream: stream})
		}
	}

	for name, found := range wanted {
		if !found {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown stream %q", name)
		}
	}
	return plan, nil
}

// Run executes the planned streams and returns the joined stream errors.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	plan, err := r.plan()
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: uuid.NewString()}
	ctx = logger.ContextWith(ctx, logger.RunIDKey, summary.RunID)
	log := r.logger.With(zap.String("run_id", summary.RunID))
	log.Info("starting run",
		zap.Int("streams", len(plan)),
		zap.Bool("dry_run", r.opts.DryRun),
		zap.Bool("fail_fast", r.opts.FailFast))

	start := time.Now()
	var errs []error
	for i, p := range plan {
		if ctx.Err() != nil || (r.opts.FailFast && len(errs) > 0) {
			for _, rest := range plan[i:] {
				summary.Results = append(summary.Results, StreamResult{
					Source: rest.source.Name(), Stream: rest.stream.Name, Status: StatusSkipped,
				})
				metrics.StreamRuns.WithLabelValues(rest.stream.Name, StatusSkipped).Inc()
			}
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
			}
			break
		}

		res := r.runStream(ctx, p.source, p.stream)
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	log.Info("run completed",
		zap.Int("failed", len(summary.Failed())),
		zap.Duration("duration", time.Since(start)))
	return summary, errors.Join(errs...)
}

func (r *Runner) runStream(ctx context.Context, src core.Source, stream *core.Stream) StreamResult {
	res := StreamResult{Source: src.Name(), Stream: stream.Name}
	start := time.Now()

	ctx = logger.ContextWith(ctx, logger.StreamKey, stream.Name)
	ctx, span := observability.StartSpan(ctx, "stream.run",
		attribute.String("tidemark.source", src.Name()),
		attribute.String("tidemark.stream", stream.Name),
		attribute.String("tidemark.write_mode", string(stream.WriteMode)))
	log := logger.WithContext(ctx).With(zap.String("component", "runner"))

	err := r.pull(ctx, src, stream, &res)
	res.Duration = time.Since(start)
	observability.EndSpan(span, err)

	if err != nil {
		res.Status = StatusFailure
		res.Err = errors.Wrap(err, typeOf(err), "stream "+stream.Name+" failed").
			WithDetail("stream", stream.Name)
		log.Error("stream failed",
			zap.Error(err),
			zap.Int("pages", res.Pages),
			zap.Int("records", res.Records))
	} else {
		res.Status = StatusSuccess
		log.Info("stream completed",
			zap.Int("pages", res.Pages),
			zap.Int("records", res.Records),
			zap.Int("watermarks_saved", len(res.Saved)),
			zap.Duration("duration", res.Duration))
	}
	metrics.StreamRuns.WithLabelValues(stream.Name, res.Status).Inc()
	return res
}

func (r *Runner) pull(ctx context.Context, src core.Source, stream *core.Stream, res *StreamResult) error {
	prev, err := r.store.Load(ctx, stream.Name)
	if err != nil {
		return err
	}

	it, err := src.Open(ctx, stream, prev)
	if err != nil {
		return err
	}

	tracker := watermark.NewTracker(stream.Name, stream.Cursor.Field)
	for {
		page, err := it.Next(ctx)
		if err == core.Done {
			break
		}
		if err != nil {
			return err
		}

		tracker.Observe(page.Tenant, page.Rows)
		res.Pages++
		res.Records += len(page.Rows)
		metrics.PagesFetched.WithLabelValues(stream.Name).Inc()

		if r.opts.DryRun {
			continue
		}
		if err := r.write(ctx, stream, page); err != nil {
			return err
		}
		metrics.RecordsEmitted.WithLabelValues(stream.Name).Add(float64(len(page.Rows)))
	}

	if r.opts.DryRun {
		return nil
	}
	return r.save(ctx, tracker.Advanced(prev), res)
}

func (r *Runner) write(ctx context.Context, stream *core.Stream, page core.Page) error {
	ctx, span := observability.StartSpan(ctx, "sink.write",
		attribute.String("tidemark.stream", stream.Name),
		attribute.String("tidemark.tenant", page.Tenant),
		attribute.Int("tidemark.rows", len(page.Rows)))
	err := r.sink.Write(ctx, stream, page)
	observability.EndSpan(span, err)
	if err != nil && !errors.IsType(err, errors.ErrorTypeSink) {
		return errors.Wrap(err, errors.ErrorTypeSink, "sink write failed")
	}
	return err
}

// save persists advanced watermarks in tenant order.
func (r *Runner) save(ctx context.Context, advanced map[watermark.Key]string, res *StreamResult) error {
	keys := make([]watermark.Key, 0, len(advanced))
	for k := range advanced {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Tenant < keys[j].Tenant })

	res.Saved = make(map[string]string, len(keys))
	for _, k := range keys {
		if err := r.store.Save(ctx, k, advanced[k]); err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "failed to save watermark").
				WithDetail("tenant", k.Tenant)
		}
		res.Saved[k.Tenant] = advanced[k]
	}
	return nil
}

func typeOf(err error) errors.ErrorType {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Type
	}
	return errors.ErrorTypeInternal
}
