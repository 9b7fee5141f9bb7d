package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisBridge/internal/adapters/observability"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
	"github.com/ghalamif/AegisBridge/internal/retry"
)

const reconnectDisconnectTimeout = 5 * time.Second

// Manager owns one TagEndpoint per configured server. The live set is only
// mutated while connecting, reconnecting or disconnecting; lookups during
// cycles take the read lock.
type Manager struct {
	factory ports.EndpointFactory
	policy  ports.ConnectPolicy
	obs     ports.Observability

	mu        sync.RWMutex
	servers   map[domain.ServerID]domain.Server
	endpoints map[domain.ServerID]ports.TagEndpoint
	closed    bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewManager(factory ports.EndpointFactory, policy ports.ConnectPolicy, obs ports.Observability) *Manager {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		factory:   factory,
		policy:    policy,
		obs:       obs,
		servers:   make(map[domain.ServerID]domain.Server),
		endpoints: make(map[domain.ServerID]ports.TagEndpoint),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// ConnectAll connects every server concurrently, each in its own retry loop,
// and returns the connected endpoints by server id. A server the factory
// cannot build is a ConfigurationError. On failure or cancellation the
// endpoints that did connect are released before returning.
func (m *Manager) ConnectAll(ctx context.Context, servers []domain.Server) (map[domain.ServerID]ports.TagEndpoint, error) {
	if m.factory == nil {
		return nil, &domain.ConfigurationError{Field: "endpoint_factory", Err: errors.New("endpoint factory is nil")}
	}

	built := make(map[domain.ServerID]ports.TagEndpoint, len(servers))
	for _, s := range servers {
		if _, dup := built[s.ID]; dup {
			return nil, &domain.ConfigurationError{Field: "servers", Err: fmt.Errorf("duplicate server id %d", s.ID)}
		}
		ep, err := m.factory(s)
		if err != nil {
			if domain.IsConfigurationError(err) {
				return nil, err
			}
			return nil, &domain.ConfigurationError{Field: "servers." + s.Name, Err: err}
		}
		if ep == nil {
			return nil, &domain.ConfigurationError{Field: "servers." + s.Name, Err: errors.New("endpoint factory returned nil")}
		}
		built[s.ID] = ep
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("connection manager already disconnected")
	}
	for _, s := range servers {
		m.servers[s.ID] = s
	}
	m.mu.Unlock()

	if m.policy.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.StartupTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		ep := built[s.ID]
		g.Go(func() error {
			return m.connect(gctx, s, ep)
		})
	}

	if err := g.Wait(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), reconnectDisconnectTimeout)
		defer cancel()
		if derr := m.DisconnectAll(shutdownCtx); derr != nil {
			m.obs.LogError("connect_cleanup_failed", derr)
		}
		return nil, err
	}
	return m.Snapshot(), nil
}

func (m *Manager) connect(ctx context.Context, s domain.Server, ep ports.TagEndpoint) error {
	attempts, err := retry.Do(ctx, m.retryConfig(s), func(ctx context.Context) error {
		m.obs.IncCounter(observability.MetricConnectAttempts, 1)
		err := ep.Connect(ctx)
		if domain.IsConfigurationError(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		m.obs.LogError("server_connect_abandoned", err,
			ports.Field{Key: "server", Value: s.Name},
			ports.Field{Key: "attempts", Value: attempts})
		return &domain.ConnectionError{Server: s.Name, Attempts: attempts, Err: err}
	}

	m.mu.Lock()
	m.endpoints[s.ID] = ep
	connected := len(m.endpoints)
	m.mu.Unlock()

	m.obs.SetGauge(observability.MetricConnected, float64(connected))
	m.obs.LogInfo("server_connected",
		ports.Field{Key: "server", Value: s.Name},
		ports.Field{Key: "url", Value: s.URL},
		ports.Field{Key: "attempts", Value: attempts})
	return nil
}

func (m *Manager) retryConfig(s domain.Server) retry.Config {
	return retry.Config{
		MaxAttempts:  m.policy.MaxAttempts,
		InitialDelay: m.policy.InitialDelay,
		MaxDelay:     m.policy.MaxDelay,
		Multiplier:   m.policy.Multiplier,
		AddJitter:    m.policy.Jitter,
		OnRetry: func(attempt int, err error, next time.Duration) {
			m.obs.LogError("server_connect_failed", err,
				ports.Field{Key: "server", Value: s.Name},
				ports.Field{Key: "attempt", Value: attempt},
				ports.Field{Key: "retry_in", Value: next.String()})
		},
	}
}

// Lookup returns the live endpoint for id.
func (m *Manager) Lookup(id domain.ServerID) (ports.TagEndpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	return ep, ok
}

// Snapshot copies the live endpoint set.
func (m *Manager) Snapshot() map[domain.ServerID]ports.TagEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.ServerID]ports.TagEndpoint, len(m.endpoints))
	for id, ep := range m.endpoints {
		out[id] = ep
	}
	return out
}

// Connected lists the ids with a live endpoint in ascending order.
func (m *Manager) Connected() []domain.ServerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]domain.ServerID, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RequestReconnect drops the endpoint of id from the live set and reconnects
// it in the background. It returns false when id is not live (unknown,
// already reconnecting, or the manager is closed).
func (m *Manager) RequestReconnect(id domain.ServerID) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	ep, ok := m.endpoints[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.endpoints, id)
	connected := len(m.endpoints)
	s := m.servers[id]
	m.bgWG.Add(1)
	m.mu.Unlock()

	m.obs.SetGauge(observability.MetricConnected, float64(connected))
	m.obs.LogInfo("server_reconnect_scheduled", ports.Field{Key: "server", Value: s.Name})
	go m.reconnect(s, ep)
	return true
}

func (m *Manager) reconnect(s domain.Server, ep ports.TagEndpoint) {
	defer m.bgWG.Done()

	dctx, cancel := context.WithTimeout(m.bgCtx, reconnectDisconnectTimeout)
	if err := ep.Disconnect(dctx); err != nil {
		m.obs.LogError("server_disconnect_failed", err, ports.Field{Key: "server", Value: s.Name})
	}
	cancel()

	attempts, err := retry.Do(m.bgCtx, m.retryConfig(s), func(ctx context.Context) error {
		m.obs.IncCounter(observability.MetricConnectAttempts, 1)
		return ep.Connect(ctx)
	})
	if err != nil {
		if m.bgCtx.Err() == nil {
			m.obs.LogCritical("server_reconnect_abandoned", err,
				ports.Field{Key: "server", Value: s.Name},
				ports.Field{Key: "attempts", Value: attempts})
		}
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), reconnectDisconnectTimeout)
		defer cancel()
		if err := ep.Disconnect(ctx); err != nil {
			m.obs.LogError("server_disconnect_failed", err, ports.Field{Key: "server", Value: s.Name})
		}
		return
	}
	m.endpoints[s.ID] = ep
	connected := len(m.endpoints)
	m.mu.Unlock()

	m.obs.IncCounter(observability.MetricReconnects, 1)
	m.obs.SetGauge(observability.MetricConnected, float64(connected))
	m.obs.LogInfo("server_reconnected",
		ports.Field{Key: "server", Value: s.Name},
		ports.Field{Key: "attempts", Value: attempts})
}

// DisconnectAll stops pending reconnects and disconnects every live endpoint
// once. Failures are logged and joined; they never stop the remaining
// disconnects. Later calls are no-ops.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	// closed must be visible before Wait so no reconnect can Add after it
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.bgCancel()
	m.bgWG.Wait()

	m.mu.Lock()
	live := m.endpoints
	m.endpoints = make(map[domain.ServerID]ports.TagEndpoint)
	m.mu.Unlock()

	ids := make([]domain.ServerID, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		name := m.serverName(id)
		if err := live[id].Disconnect(ctx); err != nil {
			m.obs.LogError("server_disconnect_failed", err, ports.Field{Key: "server", Value: name})
			errs = append(errs, fmt.Errorf("disconnect %s: %w", name, err))
			continue
		}
		m.obs.LogInfo("server_disconnected", ports.Field{Key: "server", Value: name})
	}
	m.obs.SetGauge(observability.MetricConnected, 0)
	return errors.Join(errs...)
}

func (m *Manager) serverName(id domain.ServerID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.servers[id]; ok {
		return s.Name
	}
	return fmt.Sprintf("server#%d", id)
}
