package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

const defaultShutdownTimeout = 5 * time.Second

// Controller sequences connect, run and disconnect for one link table.
type Controller struct {
	table   *domain.LinkTable
	manager *Manager
	engine  *Engine
	obs     ports.Observability
	policy  ports.Policy
}

// NewController wires a Manager and an Engine around table. The engine is
// created idle so its state can be observed before Run.
func NewController(table *domain.LinkTable, factory ports.EndpointFactory, reporter ports.Reporter, obs ports.Observability, policy ports.Policy, opts ...EngineOption) *Controller {
	manager := NewManager(factory, policy.Connect, obs)
	opts = append([]EngineOption{WithReconnector(manager)}, opts...)
	return &Controller{
		table:   table,
		manager: manager,
		engine:  NewEngine(table, manager, reporter, obs, policy, opts...),
		obs:     obs,
		policy:  policy,
	}
}

func (c *Controller) Engine() *Engine { return c.engine }

func (c *Controller) Manager() *Manager { return c.manager }

// Run connects every server, runs the engine until ctx is cancelled or the
// engine faults, and disconnects every connected server exactly once on all
// exit paths. A cancellation during connect returns ctx's error.
func (c *Controller) Run(ctx context.Context) error {
	if c.table == nil {
		return &domain.ConfigurationError{Field: "table", Err: errors.New("link table is nil")}
	}

	defer func() {
		timeout := c.policy.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if derr := c.manager.DisconnectAll(shutdownCtx); derr != nil {
			c.obs.LogError("teardown_incomplete", derr)
		}
	}()

	if _, err := c.manager.ConnectAll(ctx, c.table.Servers()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	return c.engine.Run(ctx)
}
