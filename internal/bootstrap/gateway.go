package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"biogate-server-go/internal/gateway/dedup"
	"biogate-server-go/internal/gateway/delivery"
	"biogate-server-go/internal/gateway/dispatcher"
	"biogate-server-go/internal/gateway/registry"
	"biogate-server-go/internal/platform/config"
	"biogate-server-go/internal/platform/logging"
	"biogate-server-go/internal/platform/storage"
	"biogate-server-go/internal/transport/ws"
	"biogate-server-go/internal/util/work"
)

// gatewayService bundles the websocket listener, the delivery worker pool and
// the retry scheduler into a single lifecycle.Service. Every Start builds a
// fresh hub and worker pool so the controller can stop and start it freely;
// the registry, retry queue and dedup store outlive restarts.
type gatewayService struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *registry.Registry
	queue    storage.CheckinQueueRepository
	dedup    dedup.Store
	client   delivery.Client

	mu     sync.Mutex
	hub    *ws.Hub
	server *ws.Server
	cancel context.CancelFunc
}

func newGatewayService(cfg *config.Config, logger *logging.Logger, reg *registry.Registry,
	queue storage.CheckinQueueRepository, dedupStore dedup.Store, client delivery.Client) *gatewayService {
	return &gatewayService{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		queue:    queue,
		dedup:    dedupStore,
		client:   client,
	}
}

// Start blocks until the websocket listener exits or ctx is cancelled.
func (g *gatewayService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	hub := ws.NewHub(g.logger)
	router := ws.NewRouter(hub, g.logger, ws.RouterOptions{})
	server := ws.NewServer(ws.ServerConfig{
		Addr: fmt.Sprintf("%s:%d", g.cfg.Transport.WebSocket.IP, g.cfg.Transport.WebSocket.Port),
	}, router, hub, g.logger)

	workers := work.NewWorkQueue[func()](g.cfg.Delivery.Workers, func(job func()) error {
		job()
		return nil
	})
	pipeline := delivery.NewPipeline(g.client, g.dedup, g.queue, g.logger)
	scheduler := delivery.NewScheduler(delivery.SchedulerConfig{
		Interval:    g.cfg.Delivery.RetryInterval,
		MaxAttempts: g.cfg.Delivery.MaxAttempts,
		MaxAge:      g.cfg.Delivery.MaxAge,
	}, g.client, g.queue, g.logger)

	deps := dispatcher.Deps{
		Registry: g.registry,
		Pipeline: pipeline,
		Workers:  workers,
		Logger:   g.logger,
		Policy:   g.cfg.Gateway.UnknownCommandPolicy,
	}
	server.SetHandlerBuilder(func(conn *ws.Connection, _ *http.Request) (ws.SessionHandler, error) {
		return dispatcher.NewHandler(conn, deps), nil
	})

	g.mu.Lock()
	g.hub = hub
	g.server = server
	g.cancel = cancel
	g.mu.Unlock()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		scheduler.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return server.Start(groupCtx)
	})

	err := group.Wait()
	workers.Stop()

	g.mu.Lock()
	g.hub = nil
	g.server = nil
	g.cancel = nil
	g.mu.Unlock()
	cancel()
	return err
}

// Stop shuts down the listener and cancels the run context. Start unblocks
// once the scheduler and the http server have both returned.
func (g *gatewayService) Stop() error {
	g.mu.Lock()
	server := g.server
	cancel := g.cancel
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if server != nil {
		return server.Stop()
	}
	return nil
}

// closeEvicted is the registry eviction hook: when a serial re-registers on a
// new connection the superseded session gets closed here.
func (g *gatewayService) closeEvicted(sessionID, serial string) {
	g.mu.Lock()
	hub := g.hub
	g.mu.Unlock()
	if hub == nil {
		return
	}

	if session, ok := hub.Get(sessionID); ok {
		g.logger.InfoTag("Registry", "serial %s re-registered, closing superseded session %s", serial, sessionID)
		session.Close(ws.ErrSessionReplaced)
	}
}
