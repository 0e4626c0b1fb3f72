package network

import (
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
)

// LoadBalancingPolicy formalizes the policy used to pick the upstream that serves each forwarded
// query when several are configured. Exactly one upstream is picked per query; a failed query is
// never re-sent to another upstream.
type LoadBalancingPolicy int

// ShardedClientFactory is a type alias for a unary constructor function that returns a single
// Client that abstracts operations among several child Clients.
type ShardedClientFactory func([]Client) Client

// RoundRobinShardedClient shards sessions among clients fairly in round-robin order.
type RoundRobinShardedClient struct {
	clients []Client

	// Monotonic round robin counter
	rrIdx atomic.Uint64
}

// RandomShardedClient shards sessions among clients randomly.
type RandomShardedClient struct {
	clients []Client
}

// HistoricalSessionsShardedClient directs sessions to the client that has, up until the time of
// invocation, opened the fewest number of successful sessions.
type HistoricalSessionsShardedClient struct {
	clients []Client
}

const (
	// RoundRobin statefully iterates through each client on every session request.
	RoundRobin LoadBalancingPolicy = iota
	// Random selects a client at random to provide the session.
	Random
	// HistoricalSessions selects the client that has, up until the time of request, provided
	// the fewest sessions.
	HistoricalSessions
)

// String returns the configuration name of the policy.
func (p LoadBalancingPolicy) String() string {
	switch p {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	case HistoricalSessions:
		return "historical_sessions"
	default:
		return "unknown"
	}
}

// NewShardedClient creates a single Client that provides sessions from several other Clients
// governed by a load balancing policy. It returns an error if there are no clients or if the
// specified load balancing policy has no associated sharded client factory.
func NewShardedClient(clients []Client, lbPolicy LoadBalancingPolicy) (Client, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("sharding: no clients to shard between")
	}

	factories := map[LoadBalancingPolicy]ShardedClientFactory{
		RoundRobin:         NewRoundRobinShardedClient,
		Random:             NewRandomShardedClient,
		HistoricalSessions: NewHistoricalSessionsShardedClient,
	}

	factory, ok := factories[lbPolicy]
	if !ok {
		return nil, fmt.Errorf(
			"sharding: no factory configured for load balancing policy: policy=%s",
			lbPolicy,
		)
	}

	return factory(clients), nil
}

// NewRoundRobinShardedClient is a client factory for the round robin load balancing policy.
func NewRoundRobinShardedClient(clients []Client) Client {
	return &RoundRobinShardedClient{clients: clients}
}

// Session opens a session from the next client in the round robin index.
func (c *RoundRobinShardedClient) Session() (*Session, error) {
	idx := (c.rrIdx.Add(1) - 1) % uint64(len(c.clients))

	return c.clients[idx].Session()
}

// Stats aggregates stats from all child clients.
func (c *RoundRobinShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// NewRandomShardedClient is a client factory for the random load balancing policy.
func NewRandomShardedClient(clients []Client) Client {
	return &RandomShardedClient{clients}
}

// Session selects a client at random to provide the session.
func (c *RandomShardedClient) Session() (*Session, error) {
	return c.clients[rand.Intn(len(c.clients))].Session()
}

// Stats aggregates stats from all child clients.
func (c *RandomShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// NewHistoricalSessionsShardedClient is a client factory for the historical sessions load
// balancing policy.
func NewHistoricalSessionsShardedClient(clients []Client) Client {
	return &HistoricalSessionsShardedClient{clients}
}

// Session selects the client that has, up until the time of invocation, provided the fewest
// successful sessions.
func (c *HistoricalSessionsShardedClient) Session() (*Session, error) {
	var client Client
	var fewest int

	for _, candidate := range c.clients {
		sessions := candidate.Stats().SuccessfulSessions
		if client == nil || sessions < fewest {
			client = candidate
			fewest = sessions
		}
	}

	return client.Session()
}

// Stats aggregates stats from all child clients.
func (c *HistoricalSessionsShardedClient) Stats() Stats {
	return aggregateClientsStats(c.clients)
}

// ParseLoadBalancingPolicy parses a LoadBalancingPolicy constant from its stringified
// representation in a case-insensitive manner.
func ParseLoadBalancingPolicy(lbPolicy string) (LoadBalancingPolicy, bool) {
	knownLbPolicies := []LoadBalancingPolicy{
		RoundRobin,
		Random,
		HistoricalSessions,
	}

	for _, knownLbPolicy := range knownLbPolicies {
		if strings.EqualFold(lbPolicy, knownLbPolicy.String()) {
			return knownLbPolicy, true
		}
	}

	return RoundRobin, false
}

// aggregateClientsStats creates a single Stats struct from those in multiple Clients.
func aggregateClientsStats(clients []Client) Stats {
	var aggregatedStats Stats

	for _, client := range clients {
		stats := client.Stats()
		aggregatedStats.SuccessfulSessions += stats.SuccessfulSessions
		aggregatedStats.FailedSessions += stats.FailedSessions
	}

	return aggregatedStats
}
