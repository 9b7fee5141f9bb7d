package exchange

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

func fastConnectPolicy() ports.ConnectPolicy {
	return ports.ConnectPolicy{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	}
}

func factoryFor(eps map[domain.ServerID]*fakeEndpoint) ports.EndpointFactory {
	return func(s domain.Server) (ports.TagEndpoint, error) {
		ep, ok := eps[s.ID]
		if !ok {
			return nil, errors.New("no endpoint for server")
		}
		return ep, nil
	}
}

func TestConnectAllRetriesWithoutBlockingOthers(t *testing.T) {
	a := newFakeEndpoint(nil)
	a.connectFails = 2
	b := newFakeEndpoint(nil)

	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: b}), fastConnectPolicy(), &mockObs{})
	handles, err := m.ConnectAll(context.Background(), twoServers())
	require.NoError(t, err)

	require.Len(t, handles, 2)
	assert.Same(t, a, handles[0])
	assert.Same(t, b, handles[1])

	aConnects, _, _, _ := a.stats()
	bConnects, _, _, _ := b.stats()
	assert.Equal(t, 3, aConnects)
	assert.Equal(t, 1, bConnects)
	assert.True(t, b.connectedAt.Before(a.connectedAt), "the healthy server must not wait for the retrying one")
	assert.Equal(t, []domain.ServerID{0, 1}, m.Connected())
}

func TestConnectAllFactoryFailureIsConfigurationError(t *testing.T) {
	b := newFakeEndpoint(nil)
	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{1: b}), fastConnectPolicy(), &mockObs{})

	_, err := m.ConnectAll(context.Background(), twoServers())
	require.True(t, domain.IsConfigurationError(err), "got %v", err)

	connects, _, _, _ := b.stats()
	assert.Zero(t, connects, "no connection is attempted when a server is unresolvable")
}

func TestConnectAllRejectsDuplicateIDs(t *testing.T) {
	a := newFakeEndpoint(nil)
	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a}), fastConnectPolicy(), &mockObs{})

	_, err := m.ConnectAll(context.Background(), []domain.Server{{ID: 0, Name: "A"}, {ID: 0, Name: "B"}})
	assert.True(t, domain.IsConfigurationError(err))
}

func TestConnectAllExhaustedReleasesConnectedServers(t *testing.T) {
	a := newFakeEndpoint(nil)
	a.connectFails = 1000
	b := newFakeEndpoint(nil)
	policy := fastConnectPolicy()
	policy.MaxAttempts = 3

	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: b}), policy, &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())

	var connErr *domain.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "ServerA", connErr.Server)
	assert.Equal(t, 3, connErr.Attempts)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)

	_, bDisconnects, _, _ := b.stats()
	_, aDisconnects, _, _ := a.stats()
	assert.Equal(t, 1, bDisconnects)
	assert.Zero(t, aDisconnects)
	assert.Empty(t, m.Connected())

	require.NoError(t, m.DisconnectAll(context.Background()))
	_, bDisconnects, _, _ = b.stats()
	assert.Equal(t, 1, bDisconnects, "disconnect happens exactly once")
}

func TestConnectAllStartupTimeout(t *testing.T) {
	a := newFakeEndpoint(nil)
	a.connectFails = 1000
	policy := fastConnectPolicy()
	policy.StartupTimeout = 60 * time.Millisecond

	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: newFakeEndpoint(nil)}), policy, &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())

	var connErr *domain.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectAllStopsRetryingConfigurationErrors(t *testing.T) {
	a := newFakeEndpoint(nil)
	a.connectErr = &domain.ConfigurationError{Field: "security_policy", Err: errors.New("unsupported")}

	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: newFakeEndpoint(nil)}), fastConnectPolicy(), &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())

	require.True(t, domain.IsConfigurationError(err))
	connects, _, _, _ := a.stats()
	assert.Equal(t, 1, connects)
}

func TestDisconnectAllIsBestEffortAndIdempotent(t *testing.T) {
	a := newFakeEndpoint(nil)
	a.disconnectErr = errors.New("socket already closed")
	b := newFakeEndpoint(nil)
	obs := &mockObs{}

	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: b}), fastConnectPolicy(), obs)
	_, err := m.ConnectAll(context.Background(), twoServers())
	require.NoError(t, err)

	err = m.DisconnectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ServerA")

	_, aDisconnects, _, _ := a.stats()
	_, bDisconnects, _, _ := b.stats()
	assert.Equal(t, 1, aDisconnects)
	assert.Equal(t, 1, bDisconnects)

	require.NoError(t, m.DisconnectAll(context.Background()))
	_, aDisconnects, _, _ = a.stats()
	assert.Equal(t, 1, aDisconnects)

	_, ok := m.Lookup(0)
	assert.False(t, ok)
	assert.False(t, m.RequestReconnect(0))
}

func TestRequestReconnectRestoresEndpoint(t *testing.T) {
	a := newFakeEndpoint(nil)
	b := newFakeEndpoint(nil)
	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: b}), fastConnectPolicy(), &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())
	require.NoError(t, err)

	a.mu.Lock()
	a.connectFails = 2
	a.connects = 0
	a.mu.Unlock()

	require.True(t, m.RequestReconnect(0))
	assert.False(t, m.RequestReconnect(0), "a reconnect is already in flight")

	require.Eventually(t, func() bool {
		_, ok := m.Lookup(0)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	connects, disconnects, _, _ := a.stats()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 1, disconnects)

	require.NoError(t, m.DisconnectAll(context.Background()))
	_, disconnects, _, _ = a.stats()
	assert.Equal(t, 2, disconnects)
}

func TestDisconnectAllCancelsPendingReconnect(t *testing.T) {
	a := newFakeEndpoint(nil)
	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: newFakeEndpoint(nil)}), fastConnectPolicy(), &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())
	require.NoError(t, err)

	a.mu.Lock()
	a.connectFails = 1 << 30
	a.mu.Unlock()
	require.True(t, m.RequestReconnect(0))

	done := make(chan struct{})
	go func() {
		_ = m.DisconnectAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("DisconnectAll did not stop the pending reconnect")
	}
	_, ok := m.Lookup(0)
	assert.False(t, ok)
}

func TestDisconnectAllRacingReconnectRequests(t *testing.T) {
	a := newFakeEndpoint(nil)
	b := newFakeEndpoint(nil)
	m := NewManager(factoryFor(map[domain.ServerID]*fakeEndpoint{0: a, 1: b}), fastConnectPolicy(), &mockObs{})
	_, err := m.ConnectAll(context.Background(), twoServers())
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range []domain.ServerID{0, 1} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m.RequestReconnect(id)
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.DisconnectAll(context.Background()))
	close(stop)
	wg.Wait()

	assert.False(t, m.RequestReconnect(0))
	assert.Empty(t, m.Connected())

	before := map[*fakeEndpoint]int{}
	for _, ep := range []*fakeEndpoint{a, b} {
		connects, disconnects, _, _ := ep.stats()
		assert.Equal(t, connects, disconnects, "every session opened must be closed by teardown")
		before[ep] = connects
	}

	time.Sleep(100 * time.Millisecond)
	for _, ep := range []*fakeEndpoint{a, b} {
		connects, _, _, _ := ep.stats()
		assert.Equal(t, before[ep], connects, "no reconnect may run after DisconnectAll returns")
	}
}
