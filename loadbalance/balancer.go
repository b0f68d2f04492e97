// Package loadbalance picks the server instance a client sends a call to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  the same endpoint always lands on the same instance
package loadbalance

import (
	"errors"
	"fmt"

	"tiny-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is called by the client before each call. key is the endpoint the
// call addresses; instances are the ones currently serving it.
// Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer called name: "round_robin" (also the default for
// ""), "weighted_random" or "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
