package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/jdziat/strand-jobs/pkg/channel"
	"github.com/jdziat/strand-jobs/pkg/config"
	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/httpapi"
	"github.com/jdziat/strand-jobs/pkg/queue"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/reindex"
	"github.com/jdziat/strand-jobs/pkg/relay"
	"github.com/jdziat/strand-jobs/pkg/worker"
)

// application holds the wired engine for the serve command.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	stores   *stores
	registry *registry.Registry
	queue    *queue.Queue
	reindex  *reindex.Service
	relay    *relay.RedisRelay
	api      *httpapi.Server
}

// buildRegistry registers every processor this binary ships. The worker
// command uses it too, so a child process resolves the same types.
func buildRegistry(cfg *config.Config, st *stores, logger *slog.Logger) (*registry.Registry, *reindex.Pipeline, error) {
	reg := registry.New()
	p := reindex.NewPipeline(
		reindex.DirSource{Root: cfg.Content.Root},
		st.content,
		st.content,
		reindex.WithTagBubbler(reindex.BlockTagBubbler{Store: st.content}),
		reindex.WithLogger(logger),
	)

	var opts []registry.Option
	if cfg.Worker.ReindexTimeout > 0 {
		opts = append(opts, registry.WithTimeout(cfg.Worker.ReindexTimeout))
	}
	if err := reindex.Register(reg, p, opts...); err != nil {
		return nil, nil, err
	}
	return reg, p, nil
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &application{cfg: cfg, logger: logger, stores: st}

	reg, p, err := buildRegistry(cfg, st, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	app.registry = reg
	app.queue = queue.New(st.jobs, reg,
		queue.WithLogger(logger),
		queue.WithTerminalCacheSize(cfg.Worker.TerminalCacheSize))

	report, err := app.queue.Recover(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("recover jobs: %w", err)
	}
	logger.Info("jobs recovered",
		"requeued", report.Requeued,
		"interrupted", report.Interrupted,
		"collapsed", report.Collapsed,
		"skipped", report.Skipped)

	app.reindex = reindex.NewService(p, app.queue)
	if err := app.registerSchedules(); err != nil {
		app.close()
		return nil, err
	}

	apiOpts := []httpapi.Option{
		httpapi.WithReindex(app.reindex),
		httpapi.WithLogger(logger),
		httpapi.WithHeartbeat(cfg.HTTP.Heartbeat),
	}
	if cfg.Redis.Enabled {
		rcfg := cfg.Redis.Config
		rcfg.Logger = logger
		r, err := relay.Dial(ctx, rcfg)
		if err != nil {
			app.close()
			return nil, err
		}
		r.Attach(app.queue.Bus())
		app.relay = r
		apiOpts = append(apiOpts, httpapi.WithRecentEvents(r))
		logger.Info("event relay attached", "addr", rcfg.Addr, "stream", r.Stream())
	}
	app.api = httpapi.New(app.queue, apiOpts...)
	return app, nil
}

// registerSchedules installs the configured recurring submissions.
func (app *application) registerSchedules() error {
	for _, sc := range app.cfg.Worker.Schedules {
		sched, payload, err := sc.Build()
		if err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		var body any
		if payload != nil {
			body = payload
		}
		if err := app.queue.Schedule(sc.Name, sched, core.JobType(sc.Type), body); err != nil {
			return err
		}
		app.logger.Info("schedule registered", "name", sc.Name, "type", sc.Type, "schedule", fmt.Sprint(sched))
	}
	return nil
}

// newWorker builds the dispatch loop. Channels run in process unless a
// channel command is configured.
func (app *application) newWorker() *worker.Worker {
	opts := []worker.WorkerOption{
		worker.Concurrency(app.cfg.Worker.Concurrency),
		worker.WithScheduler(len(app.cfg.Worker.Schedules) > 0),
		worker.WithScheduleTick(app.cfg.Worker.ScheduleTick),
		worker.WithShutdownTimeout(app.cfg.Worker.ShutdownTimeout),
		worker.WithLogger(app.logger),
	}
	if host, err := os.Hostname(); err == nil {
		opts = append(opts, worker.WithWorkerID(fmt.Sprintf("%s-%d", host, os.Getpid())))
	}
	if argv := app.cfg.Worker.ChannelCommand; len(argv) > 0 {
		opts = append(opts, worker.WithChannelFactory(channel.CommandFactory(func() *exec.Cmd {
			cmd := exec.Command(argv[0], argv[1:]...)
			cmd.Stderr = os.Stderr
			return cmd
		})))
	}
	return worker.NewWorker(app.queue, opts...)
}

func (app *application) listenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", app.cfg.HTTP.Addr, err)
	}
	return app.serve(ctx, ln)
}

// serve runs the worker and the HTTP API on ln until ctx is done, then
// stops both.
func (app *application) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           app.api.Routes(),
		ReadHeaderTimeout: app.cfg.HTTP.ReadHeaderTimeout,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	w := app.newWorker()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("worker stopped", "error", err)
		}
	}()

	srvErr := make(chan error, 1)
	go func() {
		app.logger.Info("http server listening", "addr", ln.Addr().String())
		srvErr <- srv.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down")
	case err = <-srvErr:
		app.logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		app.logger.Error("http shutdown failed", "error", serr)
	}

	stopWorker()
	wg.Wait()
	app.logger.Info("shutdown complete")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (app *application) close() {
	if app.relay != nil {
		if err := app.relay.Close(); err != nil {
			app.logger.Warn("relay close failed", "error", err)
		}
	}
	if app.queue != nil {
		app.queue.Shutdown()
	}
	if app.stores != nil {
		app.stores.close()
	}
}
