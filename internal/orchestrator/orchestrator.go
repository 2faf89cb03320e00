// Package orchestrator runs one capture job end to end: it prepares the
// output tree, captures every task sequentially, packages the result and
// reports progress along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/progress"
)

// ErrRootExists is returned when the job's output root is already present.
var ErrRootExists = errors.New("output root already exists")

const (
	defaultPerTaskEstimate = 50 * time.Second
	defaultDownloadBase    = "/download?path="
	tracerName             = "github.com/JakeFAU/pagecapture/internal/orchestrator"
)

// Capturer performs a single task. worker.Worker satisfies it.
type Capturer interface {
	Capture(ctx context.Context, task capture.Task) capture.Outcome
}

// Config controls job layout and reporting.
type Config struct {
	OutputDir string
	// Locales get a directory each even when no URL uses them. Empty means
	// the locales present in the input.
	Locales         []string
	Viewports       []capture.Viewport
	PerTaskEstimate time.Duration
	Layout          capture.Layout
	// DownloadBase prefixes the query-escaped archive path to form the link.
	DownloadBase string
}

// Job is one unit of work.
type Job struct {
	// ID is derived from the clock when empty.
	ID    string
	Pairs []capture.URLPair
	// Sink receives progress; nil discards it.
	Sink progress.Emitter
}

// Result summarizes a finished or aborted job.
type Result struct {
	JobID       string
	Root        string
	ArchivePath string
	Link        string
	Outcomes    []capture.Outcome
	Elapsed     time.Duration
	State       capture.State
	Succeeded   int
	Failed      int
}

// Orchestrator drives jobs through initializing, running, packaging and
// completed. It is safe to run several jobs concurrently as long as their
// ids differ.
type Orchestrator struct {
	capturer Capturer
	packager capture.Packager
	clock    capture.Clock
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	capturer Capturer,
	packager capture.Packager,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.PerTaskEstimate <= 0 {
		cfg.PerTaskEstimate = defaultPerTaskEstimate
	}
	if cfg.DownloadBase == "" {
		cfg.DownloadBase = defaultDownloadBase
	}
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = capture.DefaultCatalog().Viewports()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		capturer: capturer,
		packager: packager,
		clock:    clock,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Estimate returns the up-front duration estimate for taskCount tasks.
func (o *Orchestrator) Estimate(taskCount int) time.Duration {
	return time.Duration(taskCount) * o.cfg.PerTaskEstimate
}

// Link returns the download link for archivePath.
func (o *Orchestrator) Link(archivePath string) string {
	return o.cfg.DownloadBase + url.QueryEscape(archivePath)
}

// Run executes job. Per-task failures are recorded in the result and never
// stop the job; an error is returned only when the job aborts.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Result, error) {
	run := &jobRun{o: o, sink: progress.OrDiscard(job.Sink)}
	if job.ID == "" {
		job.ID = capture.JobID(o.clock.Now())
	}
	run.res = Result{JobID: job.ID, State: capture.StateInitializing}
	logger := o.logger.With(zap.String("job_id", job.ID))

	ctx, span := o.tracer.Start(ctx, "capture.job", trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	root, err := o.prepare(job)
	if err != nil {
		return run.abort(span, err)
	}
	run.res.Root = root

	started := o.clock.Now()
	tasks := capture.Expander{Layout: o.cfg.Layout}.Expand(root, job.Pairs, o.cfg.Viewports)
	span.SetAttributes(attribute.Int("job.tasks", len(tasks)))
	run.res.State = capture.StateRunning
	run.res.Outcomes = make([]capture.Outcome, 0, len(tasks))
	run.emit(progress.Event{Kind: progress.KindJobStarted, Total: len(tasks), Dur: o.Estimate(len(tasks))})
	logger.Info("job started", zap.Int("tasks", len(tasks)), zap.String("root", root))

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			run.res.Elapsed = o.clock.Now().Sub(started)
			return run.abort(span, fmt.Errorf("job canceled: %w", err))
		}
		run.captureTask(ctx, task, len(tasks))
	}

	run.res.Elapsed = o.clock.Now().Sub(started)
	run.emit(progress.Event{Kind: progress.KindJobElapsed, Dur: run.res.Elapsed})

	run.res.State = capture.StatePackaging
	archive, err := o.packager.Package(ctx, root)
	if err != nil {
		return run.abort(span, fmt.Errorf("package %s: %w", root, err))
	}
	run.res.ArchivePath = archive
	run.res.Link = o.Link(archive)
	run.res.State = capture.StateCompleted
	run.emit(progress.Event{
		Kind:        progress.KindJobCompleted,
		Total:       len(tasks),
		Dur:         run.res.Elapsed,
		ArchivePath: archive,
		Link:        run.res.Link,
	})
	span.SetAttributes(
		attribute.Int("job.succeeded", run.res.Succeeded),
		attribute.Int("job.failed", run.res.Failed),
	)
	logger.Info("job completed",
		zap.String("archive", archive),
		zap.Int("succeeded", run.res.Succeeded),
		zap.Int("failed", run.res.Failed),
		zap.Duration("elapsed", run.res.Elapsed),
	)
	return run.res, nil
}

// prepare creates the output root exclusively plus one directory per locale.
func (o *Orchestrator) prepare(job Job) (string, error) {
	if err := os.MkdirAll(o.cfg.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	root := filepath.Join(o.cfg.OutputDir, capture.RootName(job.ID))
	if err := os.Mkdir(root, 0o750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrRootExists, root)
		}
		return "", fmt.Errorf("create output root: %w", err)
	}
	locales := o.cfg.Locales
	if len(locales) == 0 {
		locales = capture.Locales(job.Pairs)
	}
	for _, locale := range locales {
		if err := os.MkdirAll(filepath.Join(root, locale), 0o750); err != nil {
			return "", fmt.Errorf("create locale dir %s: %w", locale, err)
		}
	}
	return root, nil
}

// jobRun carries per-job mutable state.
type jobRun struct {
	o    *Orchestrator
	sink progress.Emitter
	res  Result
}

func (r *jobRun) emit(evt progress.Event) {
	evt.JobID = r.res.JobID
	evt.TS = r.o.clock.Now().UTC()
	r.sink.Emit(evt)
}

func (r *jobRun) captureTask(ctx context.Context, task capture.Task, total int) {
	ctx, span := r.o.tracer.Start(ctx, "capture.task", trace.WithAttributes(
		attribute.String("url", task.URL),
		attribute.String("locale", task.Locale),
		attribute.String("device", task.Viewport.Name),
	))
	defer span.End()

	base := progress.Event{
		Seq:    task.Index + 1,
		Total:  total,
		Locale: task.Locale,
		Device: task.Viewport.Name,
		URL:    task.URL,
		Path:   task.Destination,
	}
	started := base
	started.Kind = progress.KindTaskStarted
	r.emit(started)

	outcome := r.o.capturer.Capture(ctx, task)
	r.res.Outcomes = append(r.res.Outcomes, outcome)

	done := base
	done.Dur = outcome.Duration
	if outcome.Succeeded() {
		r.res.Succeeded++
		done.Kind = progress.KindTaskSucceeded
	} else {
		r.res.Failed++
		done.Kind = progress.KindTaskFailed
		done.Err = outcome.Error
		span.SetStatus(codes.Error, outcome.Error)
	}
	r.emit(done)
}

func (r *jobRun) abort(span trace.Span, err error) (Result, error) {
	r.res.State = capture.StateAborted
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.emit(progress.Event{Kind: progress.KindJobAborted, Dur: r.res.Elapsed, Err: err.Error()})
	r.o.logger.Error("job aborted", zap.String("job_id", r.res.JobID), zap.Error(err))
	return r.res, err
}
