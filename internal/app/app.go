// Package app wires configuration, the worker communicator, and the I/O
// engine into a runnable simulation driver. The driver stands in for the
// host model: it steps the clock, pulls interpolated input fields, and
// stages scaled copies of them into the output collections.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coupledsim/fieldio/internal/comm"
	"github.com/coupledsim/fieldio/internal/engine"
	"github.com/coupledsim/fieldio/internal/grid"
	"github.com/coupledsim/fieldio/internal/log"
	"github.com/coupledsim/fieldio/internal/metrics"
	"github.com/coupledsim/fieldio/internal/timeutil"
	"github.com/coupledsim/fieldio/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger

	// Rank identifies this process within a NATS-backed worker group;
	// ignored for in-process groups.
	Rank int
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run executes the simulation loop and blocks until it completes or a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	start, _ := timeutil.ParseTimestamp(cfg.Clock.Start)
	end, _ := timeutil.ParseTimestamp(cfg.Clock.End)
	step, _ := timeutil.ParseInterval(cfg.Clock.Step)

	m := metrics.New()
	if cfg.Run.HTTPAddr != "" {
		a.startDebugServer(ctx, cfg.Run.HTTPAddr, m)
	}

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			log.Info("shutdown signal received, cancelling run...")
			cancel()
		case <-ctx.Done():
		}
	}()

	switch cfg.Comm.Mode {
	case "", "inprocess":
		return a.runInProcess(ctx, cfg, m, start, end, step)
	case "nats":
		return a.runNATS(ctx, cfg, m, start, end, step)
	default:
		return fmt.Errorf("unsupported comm mode %q", cfg.Comm.Mode)
	}
}

// runInProcess runs every worker of the group as a goroutine in this
// process.
func (a *App) runInProcess(ctx context.Context, cfg *config.ConfigData, m *metrics.Metrics, start, end time.Time, step time.Duration) error {
	workers := cfg.Comm.Workers
	if workers <= 0 {
		workers = 1
	}
	group, err := comm.NewGroup(workers)
	if err != nil {
		return err
	}
	parts, err := grid.SplitRows(cfg.Grid.Shape, workers)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			if err := a.runWorker(ctx, cfg, m, group[w], parts[w], start, end, step); err != nil {
				errCh <- fmt.Errorf("worker %d: %w", w, err)
				// a failed worker can no longer participate in
				// collectives; abort the group so the survivors are
				// released instead of blocking at the next one
				group[w].Abort()
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	// prefer the root cause over the abort errors it triggered
	var runErr error
	for err := range errCh {
		if runErr == nil || errors.Is(runErr, comm.ErrGroupAborted) {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}
	log.Info("run complete")
	return nil
}

// runNATS runs this process as one rank of a broker-backed worker group.
func (a *App) runNATS(ctx context.Context, cfg *config.ConfigData, m *metrics.Metrics, start, end time.Time, step time.Duration) error {
	if cfg.Comm.Workers <= 0 {
		return fmt.Errorf("nats comm mode requires a positive worker count")
	}
	nc, err := nats.Connect(cfg.Comm.URL, nats.Name(fmt.Sprintf("fieldio-rank-%d", a.Rank)))
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", cfg.Comm.URL, err)
	}
	defer nc.Close()

	prefix := cfg.Comm.Group
	if prefix == "" {
		prefix = "fieldio.comm"
	}
	cm, err := comm.NewNATSComm(ctx, nc, prefix, a.Rank, cfg.Comm.Workers)
	if err != nil {
		return fmt.Errorf("joining worker group: %w", err)
	}

	parts, err := grid.SplitRows(cfg.Grid.Shape, cfg.Comm.Workers)
	if err != nil {
		return err
	}
	if err := a.runWorker(ctx, cfg, m, cm, parts[a.Rank], start, end, step); err != nil {
		return err
	}
	log.Info("run complete")
	return nil
}

// runWorker drives one worker's engine through the full clock.
func (a *App) runWorker(ctx context.Context, cfg *config.ConfigData, m *metrics.Metrics, cm comm.Communicator, part *grid.Partition, start, end time.Time, step time.Duration) error {
	eng := engine.New(a.logger, m)
	if err := eng.Initialize(cfg, part, cm); err != nil {
		return err
	}

	// the driver's stand-in physics: each collection field sources the
	// same-named stream field, scaled
	fieldSource := make(map[string]string)
	for _, s := range cfg.Streams {
		for _, f := range s.Fields {
			if _, ok := fieldSource[f.Name]; !ok {
				fieldSource[f.Name] = s.Name
			}
		}
	}
	scale := cfg.Run.ScaleFactor
	if scale == 0 {
		scale = 1.0
	}

	for t := start; !t.After(end); t = t.Add(step) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, cd := range cfg.Collections {
			for _, f := range cd.Fields {
				streamName, ok := fieldSource[f.Name]
				if !ok {
					continue
				}
				sample, err := eng.Field(streamName, f.Name, t)
				if err != nil {
					return err
				}
				scaled := sample.Clone()
				scaled.Scale(scale)
				if err := eng.Stage(cd.Name, f.Name, scaled); err != nil {
					return err
				}
			}
		}

		if err := eng.Step(t); err != nil {
			return err
		}
	}

	return eng.Finalize(end)
}

// startDebugServer exposes metrics and a health probe on the configured
// address.
func (a *App) startDebugServer(ctx context.Context, addr string, m *metrics.Metrics) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Infof("debug server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("debug server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
