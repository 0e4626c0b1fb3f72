package network

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	mutex sync.Mutex
	stats Stats
}

func (c *countingClient) Session() (*Session, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stats.SuccessfulSessions++

	return nil, nil
}

func (c *countingClient) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.stats
}

func newCountingClients(n int) ([]Client, []*countingClient) {
	var clients []Client
	var counters []*countingClient

	for i := 0; i < n; i++ {
		counter := &countingClient{}
		clients = append(clients, counter)
		counters = append(counters, counter)
	}

	return clients, counters
}

func TestRoundRobinShardedClient(t *testing.T) {
	clients, counters := newCountingClients(3)

	client, err := NewShardedClient(clients, RoundRobin)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		client.Session()
	}

	assert.Equal(t, 3, counters[0].Stats().SuccessfulSessions)
	assert.Equal(t, 2, counters[1].Stats().SuccessfulSessions)
	assert.Equal(t, 2, counters[2].Stats().SuccessfulSessions)
	assert.Equal(t, 7, client.Stats().SuccessfulSessions)
}

func TestRoundRobinShardedClientConcurrent(t *testing.T) {
	clients, counters := newCountingClients(4)
	client := NewRoundRobinShardedClient(clients)

	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			client.Session()
		}()
	}
	wg.Wait()

	for _, counter := range counters {
		assert.Equal(t, 100, counter.Stats().SuccessfulSessions)
	}
}

func TestRandomShardedClient(t *testing.T) {
	clients, _ := newCountingClients(3)
	client := NewRandomShardedClient(clients)

	for i := 0; i < 50; i++ {
		client.Session()
	}

	assert.Equal(t, 50, client.Stats().SuccessfulSessions)
}

func TestHistoricalSessionsShardedClient(t *testing.T) {
	clients, counters := newCountingClients(3)
	counters[0].stats.SuccessfulSessions = 5
	counters[1].stats.SuccessfulSessions = 1
	counters[2].stats.SuccessfulSessions = 3

	client := NewHistoricalSessionsShardedClient(clients)

	client.Session()
	assert.Equal(t, 2, counters[1].Stats().SuccessfulSessions)

	// Ties go to the earliest client
	client.Session()
	client.Session()
	assert.Equal(t, 5, counters[0].Stats().SuccessfulSessions)
	assert.Equal(t, 4, counters[1].Stats().SuccessfulSessions)
	assert.Equal(t, 3, counters[2].Stats().SuccessfulSessions)
}

func TestNewShardedClientErrors(t *testing.T) {
	_, err := NewShardedClient(nil, RoundRobin)
	assert.Error(t, err)

	clients, _ := newCountingClients(1)
	_, err = NewShardedClient(clients, LoadBalancingPolicy(42))
	assert.Error(t, err)
}

func TestParseLoadBalancingPolicy(t *testing.T) {
	tests := []struct {
		name     string
		expected LoadBalancingPolicy
		ok       bool
	}{
		{name: "round_robin", expected: RoundRobin, ok: true},
		{name: "RANDOM", expected: Random, ok: true},
		{name: "historical_sessions", expected: HistoricalSessions, ok: true},
		{name: "failover", expected: RoundRobin, ok: false},
		{name: "", expected: RoundRobin, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, ok := ParseLoadBalancingPolicy(tt.name)
			assert.Equal(t, tt.expected, policy)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
