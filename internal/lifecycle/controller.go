package lifecycle

import (
	"context"
	"sync"
	"time"

	"biogate-server-go/internal/eventbus"
	"biogate-server-go/internal/platform/logging"
)

const logTag = "Lifecycle"

// State of the gateway listener.
type State string

const (
	StateStopped    State = "stopped"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
)

// Service is the listener the controller manages. Start blocks until the
// service exits; Stop triggers a graceful shutdown.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// Controller turns operator start/stop/restart requests into service
// transitions and publishes every state change on the process event bus.
// The instance lock is untouched: a restart keeps the same process identity.
type Controller struct {
	mu      sync.Mutex
	state   State
	service Service
	logger  *logging.Logger
	parent  context.Context

	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(parent context.Context, service Service, logger *logging.Logger) *Controller {
	if parent == nil {
		parent = context.Background()
	}
	return &Controller{
		state:   StateStopped,
		service: service,
		logger:  logger,
		parent:  parent,
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start brings the service up. Starting a running gateway is a logged no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		c.logger.InfoTag(logTag, "start requested but gateway already running")
		return nil
	case StateRestarting:
		c.logger.WarnTag(logTag, "start refused during restart")
		return nil
	}

	c.startLocked()
	return nil
}

// Stop shuts the service down. Stopping a stopped gateway is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		return nil
	}
	return c.stopLocked()
}

// Restart stops then starts the service; requests arriving during the
// transition are refused by the state checks above.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setStateLocked(StateRestarting)
	if err := c.stopLocked(); err != nil {
		c.logger.ErrorTag(logTag, "stop during restart failed: %v", err)
	}
	c.startLocked()
	return nil
}

func (c *Controller) startLocked() {
	runCtx, cancel := context.WithCancel(c.parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		if err := c.service.Start(runCtx); err != nil {
			c.logger.ErrorTag(logTag, "service exited with error: %v", err)
		}
	}()

	c.setStateLocked(StateRunning)
	c.logger.InfoTag(logTag, "gateway started")
}

func (c *Controller) stopLocked() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	err := c.service.Stop()

	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(10 * time.Second):
			c.logger.WarnTag(logTag, "service did not exit within shutdown window")
		}
		c.done = nil
	}

	c.setStateLocked(StateStopped)
	c.logger.InfoTag(logTag, "gateway stopped")
	return err
}

func (c *Controller) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	eventbus.Publish(eventbus.TopicLifecycleState, string(state))
}
