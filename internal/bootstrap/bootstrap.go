package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"biogate-server-go/internal/eventbus"
	"biogate-server-go/internal/gateway/dedup"
	"biogate-server-go/internal/gateway/delivery"
	"biogate-server-go/internal/gateway/registry"
	"biogate-server-go/internal/lifecycle"
	platformconfig "biogate-server-go/internal/platform/config"
	platformerrors "biogate-server-go/internal/platform/errors"
	"biogate-server-go/internal/platform/lock"
	platformlogging "biogate-server-go/internal/platform/logging"
	platformobservability "biogate-server-go/internal/platform/observability"
	platformstorage "biogate-server-go/internal/platform/storage"
	httptransport "biogate-server-go/internal/transport/http"
	"biogate-server-go/internal/transport/http/admin"
)

const bootTag = "Bootstrap"

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	queue                 platformstorage.CheckinQueueRepository
	lockManager           *lock.Manager
	dedupStore            dedup.Store
}

// Run starts the whole gateway: configuration, logging, storage, the
// instance lock, the websocket listener and the operator API, then blocks
// until a shutdown signal arrives.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	cfg := state.config
	logger := state.logger
	if cfg == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	if shutdown := state.observabilityShutdown; shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WarnTag(bootTag, "observability shutdown failed: %v", err)
			}
		}()
	}

	defer func() {
		if state.dedupStore != nil {
			if err := state.dedupStore.Close(context.Background()); err != nil {
				logger.WarnTag(bootTag, "dedup store close failed: %v", err)
			}
		}
		if state.lockManager != nil {
			if err := state.lockManager.Release(); err != nil {
				logger.WarnTag("Lock", "lock release failed: %v", err)
			}
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	controller, err := startServices(state, group, groupCtx)
	if err != nil {
		cancel()
		return err
	}

	logger.InfoTag(bootTag, "gateway started")

	err = waitForShutdown(signalCtx, cancel, logger, group)

	if stopErr := controller.Stop(); stopErr != nil {
		logger.WarnTag(bootTag, "gateway stop during shutdown failed: %v", stopErr)
	}
	return err
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	for _, step := range steps {
		logger.InfoTag(bootTag, "init %s done", step.Title)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if stderrors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph declares the ordered initialisation steps and their dependencies.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "lock:acquire",
			Title:     "instance lock",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindLock,
			Execute:   acquireLockStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "retry queue database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "dedup:init-store",
			Title:     "dedup store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initDedupStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(&platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	platformlogging.DefaultLogger = logger

	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	logger.InfoTag(bootTag, "logging ready [%s] config=%s", state.config.Log.Level, source)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func acquireLockStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindLock,
			"lock:acquire",
			"config not loaded",
		)
	}

	manager := lock.NewManager(state.config.Lock.Path)
	addr := fmt.Sprintf("%s:%d", state.config.Transport.WebSocket.IP, state.config.Transport.WebSocket.Port)
	if err := manager.Acquire(addr); err != nil {
		return err
	}
	state.lockManager = manager
	state.logger.InfoTag("Lock", "instance lock acquired at %s", state.config.Lock.Path)
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindStorage,
			"storage:init-database",
			"config not loaded",
		)
	}

	db, err := platformstorage.InitDatabase(state.config.Storage.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = db
	state.queue = platformstorage.NewCheckinQueueRepository(db)
	state.logger.InfoTag("Storage", "retry queue database ready at %s", state.config.Storage.DSN)
	return nil
}

func initDedupStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"dedup:init-store",
			"config not loaded",
		)
	}

	cfg := dedup.Config{
		Driver: state.config.Dedup.Type,
		TTL:    state.config.Dedup.TTL,
	}
	if cfg.Driver == dedup.DriverRedis {
		cfg.Redis = &dedup.RedisConfig{
			Addr:     state.config.Dedup.Redis.Addr,
			Username: state.config.Dedup.Redis.Username,
			Password: state.config.Dedup.Redis.Password,
			DB:       state.config.Dedup.Redis.DB,
			Prefix:   state.config.Dedup.Redis.Prefix,
		}
	}

	store, err := dedup.New(cfg)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "dedup:init-store", "failed to create dedup store", err)
	}
	state.dedupStore = store
	return nil
}

// startServices wires the gateway service under the lifecycle controller and
// exposes the operator API. The controller starts the gateway immediately;
// the admin HTTP server stays up across gateway restarts.
func startServices(state *appState, group *errgroup.Group, groupCtx context.Context) (*lifecycle.Controller, error) {
	cfg := state.config
	logger := state.logger

	client := delivery.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Timeout)

	var service *gatewayService
	reg := registry.New(func(sessionID, serial string) {
		service.closeEvicted(sessionID, serial)
	})
	service = newGatewayService(cfg, logger, reg, state.queue, state.dedupStore, client)

	controller := lifecycle.NewController(groupCtx, service, logger)

	if err := eventbus.Subscribe(eventbus.TopicLifecycleState, func(stateName string) {
		logger.InfoTag(bootTag, "gateway state is now %s", stateName)
	}); err != nil {
		logger.WarnTag(bootTag, "lifecycle event subscription failed: %v", err)
	}

	if err := controller.Start(); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "gateway:start", "failed to start gateway service", err)
	}

	if cfg.Web.Enabled {
		if err := startAdminServer(state, controller, reg, group, groupCtx); err != nil {
			return nil, err
		}
	}

	return controller, nil
}

func startAdminServer(state *appState, controller *lifecycle.Controller, reg *registry.Registry,
	group *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config
	logger := state.logger

	adminService := admin.NewService(cfg, logger, controller, reg, state.queue)

	router, err := httptransport.Build(httptransport.Options{
		Config:         cfg,
		Logger:         logger,
		AuthMiddleware: admin.AuthMiddleware(adminService.Token()),
		StaticRoot:     cfg.Web.StaticDir,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build http router", err)
	}
	adminService.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.Web.IP + ":" + strconv.Itoa(cfg.Web.Port),
		Handler: router.Engine,
	}

	group.Go(func() error {
		logger.InfoTag("HTTP", "operator API listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "operator API shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "operator API stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "operator API failed: %v", err)
			return err
		}
		return nil
	})

	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag(bootTag, "received %v, shutting down", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(bootTag, "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag(bootTag, "all services stopped")
	case <-time.After(15 * time.Second):
		timeoutErr := stderrors.New("shutdown timed out")
		logger.ErrorTag(bootTag, "shutdown timed out, exiting")
		return timeoutErr
	}
	return nil
}
