// Package server builds the application graph and runs it as an HTTP
// service or as a single synchronous capture.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pagecapture/internal/api"
	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/clock/system"
	"github.com/JakeFAU/pagecapture/internal/config"
	"github.com/JakeFAU/pagecapture/internal/hash/sha256"
	"github.com/JakeFAU/pagecapture/internal/input"
	"github.com/JakeFAU/pagecapture/internal/jobs"
	"github.com/JakeFAU/pagecapture/internal/logging"
	"github.com/JakeFAU/pagecapture/internal/orchestrator"
	"github.com/JakeFAU/pagecapture/internal/packager"
	"github.com/JakeFAU/pagecapture/internal/policy/ratelimit"
	"github.com/JakeFAU/pagecapture/internal/progress"
	progresssinks "github.com/JakeFAU/pagecapture/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/pagecapture/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/pagecapture/internal/queue/memory"
	"github.com/JakeFAU/pagecapture/internal/renderer/headless"
	gcsstorage "github.com/JakeFAU/pagecapture/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pagecapture/internal/storage/local"
	memorystorage "github.com/JakeFAU/pagecapture/internal/storage/memory"
	pgstore "github.com/JakeFAU/pagecapture/internal/storage/postgres"
	"github.com/JakeFAU/pagecapture/internal/store"
	"github.com/JakeFAU/pagecapture/internal/telemetry"
	"github.com/JakeFAU/pagecapture/internal/worker"
)

// Option overrides a dependency Build would otherwise construct.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	renderer   capture.Renderer
	clock      capture.Clock
	registerer prometheus.Registerer
	traceOpts  []sdktrace.TracerProviderOption
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithRenderer replaces the headless Chrome renderer.
func WithRenderer(r capture.Renderer) Option { return func(o *options) { o.renderer = r } }

// WithClock replaces the wall clock.
func WithClock(c capture.Clock) Option { return func(o *options) { o.clock = c } }

// WithRegisterer registers progress metrics somewhere other than the default registry.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// WithTracing attaches span processors or exporters to the tracer provider.
func WithTracing(opts ...sdktrace.TracerProviderOption) Option {
	return func(o *options) { o.traceOpts = append(o.traceOpts, opts...) }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	parser     *input.Parser
	manager    *jobs.Manager
	dispatch   *jobs.Dispatcher
	queue      *queuememory.Queue[jobs.Item]
	hub        *progress.Hub
	jobStore   store.JobStore
	archives   *localstorage.ArchiveStore
	apiServer  *api.Server
	hookNames  []string
	closeFuncs []func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	outDir, err := filepath.Abs(cfg.Capture.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	cfg.Capture.OutputDir = outDir
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("output_dir", cfg.Capture.OutputDir),
		zap.Int("concurrency", cfg.Jobs.Concurrency),
	)
	built := false
	defer func() {
		if !built {
			_ = app.Close(context.Background())
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry, o.traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose(tp.Shutdown)

	clock := o.clock
	if clock == nil {
		clock = system.New()
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Capture.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	app.archives, err = localstorage.New(localstorage.Config{BaseDir: cfg.Capture.OutputDir})
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	ready, err := app.setupJobStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupProgress(o.registerer); err != nil {
		return nil, err
	}
	hooks, err := app.setupHooks(ctx, clock)
	if err != nil {
		return nil, err
	}

	orch := app.setupOrchestrator(o.renderer, clock, catalog)

	app.parser = input.NewParser(cfg.Input.Columns)
	app.queue = queuememory.NewQueue[jobs.Item](cfg.Jobs.QueueSize)
	app.manager = jobs.NewManager(jobs.ManagerConfig{
		Retained:      cfg.Server.RetainedJobs,
		JournalBuffer: cfg.Jobs.JournalBuffer,
		Viewports:     catalog.Viewports(),
	}, jobs.NewIDSource(clock), app.jobStore, app.queue, clock, logger.Named("jobs"))
	app.dispatch = jobs.NewDispatcher(app.queue, orch, app.hub, cfg.Jobs.Concurrency, logger.Named("dispatcher"), hooks...)

	app.apiServer = api.NewServer(app.manager, app.parser, app.jobStore, app.archives, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Ready:          ready,
	}, logger.Named("api"))

	built = true
	return app, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closeFuncs = append(a.closeFuncs, fn)
}

func (a *App) setupJobStore(ctx context.Context) (api.ReadinessCheck, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, using in-memory job store")
		a.jobStore = memorystorage.NewJobStore()
		return nil, nil
	}
	pg, err := pgstore.New(ctx, a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	a.onClose(func(context.Context) error {
		pg.Close()
		return nil
	})
	a.jobStore = pg
	a.logger.Info("postgres job store initialized", zap.Bool("migrate", a.cfg.DB.Migrate))
	return pg.Ping, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.jobStore, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	a.hub = progress.NewHub(a.cfg.Progress.HubConfig, a.logger.Named("progress_hub"), sinkList...)
	a.onClose(a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer", a.cfg.Progress.Buffer),
		zap.Int("batch_size", a.cfg.Progress.BatchSize),
		zap.Duration("flush_every", a.cfg.Progress.FlushEvery),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) setupHooks(ctx context.Context, clock capture.Clock) ([]jobs.Hook, error) {
	var hooks []jobs.Hook
	if bucket := a.cfg.Storage.GCS.Bucket; bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		hooks = append(hooks, jobs.MirrorHook{Blobs: blobs, Jobs: a.jobStore})
		a.logger.Info("archive mirror enabled", zap.String("bucket", bucket))
	}
	if a.cfg.PubSub.Enabled() {
		var clientOpts []option.ClientOption
		if a.cfg.PubSub.Endpoint != "" {
			clientOpts = append(clientOpts,
				option.WithEndpoint(a.cfg.PubSub.Endpoint),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		publisher := gcppublisher.New(client)
		a.onClose(func(context.Context) error {
			publisher.Close()
			return nil
		})
		hooks = append(hooks, jobs.NotifyHook{Publisher: publisher, Topic: a.cfg.PubSub.Topic, Clock: clock})
		a.logger.Info("job notifications enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	for _, h := range hooks {
		a.hookNames = append(a.hookNames, h.Name())
	}
	return hooks, nil
}

func (a *App) setupOrchestrator(renderer capture.Renderer, clock capture.Clock, catalog capture.Catalog) *orchestrator.Orchestrator {
	if renderer == nil {
		renderer = headless.New(a.cfg.Browser, a.logger.Named("renderer"))
	}
	var limiter worker.Limiter
	if rl := a.cfg.RateLimit(); rl.Enabled() {
		limiter = ratelimit.New(rl)
		a.logger.Info("per-host rate limit enabled", zap.Float64("host_qps", rl.HostQPS))
	}
	w := worker.New(renderer, clock, limiter, a.cfg.Worker(), a.logger.Named("worker"))
	return orchestrator.New(
		w,
		packager.New(a.cfg.Packaging, a.logger.Named("packager")),
		clock,
		orchestrator.Config{
			OutputDir:       a.cfg.Capture.OutputDir,
			Locales:         a.cfg.Locales(),
			Viewports:       catalog.Viewports(),
			PerTaskEstimate: a.cfg.Capture.PerTaskEstimate,
			Layout:          capture.Layout{HashSuffix: a.cfg.Capture.HashSuffix, Hasher: sha256.New()},
			DownloadBase:    a.cfg.Server.DownloadBase,
		},
		a.logger.Named("orchestrator"),
	)
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Hooks names the post-job hooks that were enabled.
func (a *App) Hooks() []string {
	return append([]string(nil), a.hookNames...)
}

// Run serves HTTP and processes queued jobs until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("concurrency", a.cfg.Jobs.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// CaptureFile runs one job for the spreadsheet at path in the foreground.
// Every progress event is passed to observer as it happens.
func (a *App) CaptureFile(ctx context.Context, path string, observer progress.Emitter) (*jobs.Completion, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied input file
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	pairs, err := a.parser.Parse(filepath.Base(path), f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("parse input %s: %w", path, err)
	}

	item, err := a.manager.Register(ctx, jobs.Submission{Source: filepath.Base(path), Pairs: pairs})
	if err != nil {
		return nil, err
	}
	_, events, cancel := item.Journal.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		out := progress.OrDiscard(observer)
		for evt := range events {
			out.Emit(evt)
		}
	}()

	c := a.dispatch.Process(ctx, item)
	cancel()
	<-done
	if c.Err != nil {
		return c, fmt.Errorf("capture job %s: %w", c.JobID, c.Err)
	}
	return c, nil
}

// Close releases every resource Build acquired, in reverse order.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		var errs []error
		for i := len(a.closeFuncs) - 1; i >= 0; i-- {
			if err := a.closeFuncs[i](ctx); err != nil {
				a.logger.Warn("shutdown step failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
