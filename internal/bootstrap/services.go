package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docsmith/docsmith/config"
	"github.com/docsmith/docsmith/internal/adapters/worker"
	"github.com/docsmith/docsmith/internal/bus"
	"github.com/docsmith/docsmith/internal/collab/analysis"
	"github.com/docsmith/docsmith/internal/collab/docgen"
	"github.com/docsmith/docsmith/internal/collab/ingestion"
	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data"
	"github.com/docsmith/docsmith/internal/observability/statsd"
	"github.com/docsmith/docsmith/internal/service"
)

// ServiceContainer holds the constructed pipeline services. Which of them
// actually run is decided by the SERVICES env selection, but they are all
// built from the same repositories so a combined deployment shares state.
type ServiceContainer struct {
	Intake    *service.IntakeService
	Jobs      *service.JobService
	Publisher *service.PublisherService
	Sweeper   *service.SweeperService
	Worker    *worker.Dispatcher

	// Wake connects intake to the reactive publisher. Buffered with
	// capacity one: a signal sent while a drain is pending coalesces.
	Wake chan struct{}

	Observability ObservabilityContainer
}

// ObservabilityContainer groups metric emission dependencies.
type ObservabilityContainer struct {
	Metrics statsd.Sink
}

// ServiceDeps contains the external dependencies services are built on.
type ServiceDeps struct {
	DB     *sql.DB
	Redis  redis.UniversalClient
	Config *config.AppConfig
	Logger *slog.Logger
}

type serviceRepositories struct {
	intake  *data.IntakeStore
	jobs    *data.JobRepo
	relay   *data.RelayRepo
	results *data.ResultRepo
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	if !cfg.Metrics.IsEnabled() {
		return ObservabilityContainer{}
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  "docsmith",
		Logger:  logger,
	})
	if err != nil {
		if logger != nil {
			logger.Warn("statsd sink unavailable, metrics disabled", "error", err)
		}
		return ObservabilityContainer{}
	}

	return ObservabilityContainer{Metrics: client}
}

func buildRepositories(db *sql.DB, logger *slog.Logger) *serviceRepositories {
	repoCfg := data.RepoConfig{Logger: logger}
	return &serviceRepositories{
		intake:  data.NewIntakeStore(db),
		jobs:    data.NewJobRepo(db, repoCfg),
		relay:   data.NewRelayRepo(db, repoCfg),
		results: data.NewResultRepo(db),
	}
}

// NewServices wires the full pipeline: intake over the transactional store,
// the reactive publisher over the Redis stream bus, the sweeper sharing the
// publisher's delivery path, and the worker dispatcher with its collaborators.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, deps.Config.Observability)
	repos := buildRepositories(deps.DB, logger)
	pipeline := deps.Config.Pipeline

	streamPublisher, err := bus.NewStreamPublisher(bus.StreamPublisherOptions{
		Client: deps.Redis,
		Group:  pipeline.Group,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create stream publisher: %w", err)
	}
	if err := streamPublisher.EnsureTopic(ctx, pipeline.Topic); err != nil {
		return ServiceContainer{}, fmt.Errorf("ensure topic %q: %w", pipeline.Topic, err)
	}

	wake := make(chan struct{}, 1)

	intake, err := service.NewIntakeService(service.IntakeServiceOptions{
		Store:   repos.intake,
		Config:  pipeline,
		Logger:  logger,
		Metrics: observability.Metrics,
		Wake:    wake,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create intake service: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:    repos.jobs,
		Relay:   repos.relay,
		Results: repos.results,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	publisher, err := service.NewPublisherService(service.PublisherServiceOptions{
		Deps: service.PublisherDeps{
			Relay: repos.relay,
			Jobs:  repos.jobs,
			Bus:   streamPublisher,
		},
		Config:  pipeline,
		Logger:  logger,
		Metrics: observability.Metrics,
		Wake:    wake,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create publisher service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Relay:     repos.relay,
		Publisher: publisher.WithSource("sweeper"),
		Config:    pipeline,
		Logger:    logger,
		Metrics:   observability.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sweeper service: %w", err)
	}

	dispatcher, err := buildWorker(deps, repos, observability, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Intake:        intake,
		Jobs:          jobs,
		Publisher:     publisher,
		Sweeper:       sweeper,
		Worker:        dispatcher,
		Wake:          wake,
		Observability: observability,
	}, nil
}

func buildWorker(
	deps *ServiceDeps,
	repos *serviceRepositories,
	observability ObservabilityContainer,
	logger *slog.Logger,
) (*worker.Dispatcher, error) {
	pipeline := deps.Config.Pipeline

	local, err := ingestion.NewLocal(ingestion.LocalOptions{
		WorkspaceDir: pipeline.WorkspaceDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create ingestion collaborator: %w", err)
	}

	// Bus consumers keep per-delivery claim state, so each worker goroutine
	// gets its own consumer with a unique name in the group.
	consumers := worker.ConsumerFactory(func() (core.BusConsumer, error) {
		return bus.NewStreamConsumer(bus.StreamConsumerOptions{
			Client:       deps.Redis,
			Topic:        pipeline.Topic,
			Group:        pipeline.Group,
			BlockTimeout: pipeline.ConsumerBlockTimeout,
			ClaimMinIdle: pipeline.ConsumerClaimMinIdle,
			Logger:       logger,
		})
	})

	dispatcher, err := worker.NewDispatcher(worker.DispatcherOptions{
		Consumers: consumers,
		Jobs:      repos.jobs,
		Results:   repos.results,
		Ingestion: local,
		Analyzer:  analysis.NewSourceAnalyzer(),
		DocGen:    docgen.NewGenerator(docgen.GeneratorOptions{Logger: logger}),
		Config:    pipeline,
		Logger:    logger,
		Metrics:   observability.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker dispatcher: %w", err)
	}

	return dispatcher, nil
}

// ServiceOrchestrationConfig drives RunServicesWithShutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

type backgroundService struct {
	name string
	run  func(ctx context.Context) error
}

type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	descriptor backgroundService,
	errCh chan<- error,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("starting service", "service", descriptor.name)
		if err := descriptor.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errCh <- fmt.Errorf("%s: %w", descriptor.name, err):
			default:
			}
			return
		}
		logger.Info("service stopped", "service", descriptor.name)
	}()
	return done
}

func buildBackgroundServices(
	enabled map[config.ServiceMode]bool,
	services ServiceContainer,
) []backgroundService {
	var out []backgroundService

	// The reactive publisher runs alongside intake: the wake channel only
	// reaches it in-process.
	if enabled[config.ServiceModeHTTP] {
		out = append(out, backgroundService{name: "publisher", run: services.Publisher.Run})
	}
	if enabled[config.ServiceModeWorker] {
		out = append(out, backgroundService{name: "worker", run: services.Worker.Run})
	}
	if enabled[config.ServiceModeSweeper] {
		out = append(out, backgroundService{name: "sweeper", run: services.Sweeper.Run})
	}

	return out
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// termination signal arrives or a service fails, then stops everything
// gracefully.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("resolve enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	background := buildBackgroundServices(enabled, cfg.Services)
	errCh := make(chan error, len(background)+1)

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server, err = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	handles := make([]backgroundServiceHandle, 0, len(background))
	for _, descriptor := range background {
		handles = append(handles, backgroundServiceHandle{
			name: descriptor.name,
			done: launchBackground(ctx, logger, descriptor, errCh),
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("service failed", "error", runErr)
		stop()
	}

	if shutdownErr := gracefulStop(server, handles, logger); shutdownErr != nil && runErr == nil {
		runErr = shutdownErr
	}

	return runErr
}

func gracefulStop(server *http.Server, handles []backgroundServiceHandle, logger *slog.Logger) error {
	var firstErr error

	if server != nil {
		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: context.Background(),
			Server:  server,
			Logger:  logger,
		}); err != nil {
			firstErr = fmt.Errorf("shutdown http server: %w", err)
		}
	}

	for _, handle := range handles {
		waitForService(handle.done, handle.name, logger)
	}

	return firstErr
}

func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn("service did not stop in time", "service", name)
	}
}
