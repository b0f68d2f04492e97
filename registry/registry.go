// Package registry advertises and discovers the endpoints served by tinyrpc
// servers. An endpoint is a name registered in a Manager; every server hosting
// it registers one ServiceInstance under that name.
package registry

import (
	"context"
	"errors"
)

var ErrInvalidInstance = errors.New("registry: invalid instance")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version"`
}

// Registry is implemented by EtcdRegistry and MemoryRegistry.
//
// Watch emits the full instance list of an endpoint whenever it changes, and
// closes the channel when ctx is done.
type Registry interface {
	Register(ctx context.Context, endpoint string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, endpoint string, addr string) error
	Discover(ctx context.Context, endpoint string) ([]ServiceInstance, error)
	Watch(ctx context.Context, endpoint string) <-chan []ServiceInstance
}

func validate(endpoint string, instance ServiceInstance) error {
	if endpoint == "" || instance.Addr == "" {
		return ErrInvalidInstance
	}
	if instance.Weight < 0 {
		return ErrInvalidInstance
	}
	return nil
}

// withDefaults fills in the weight of an instance registered without one.
func withDefaults(instance ServiceInstance) ServiceInstance {
	if instance.Weight == 0 {
		instance.Weight = 1
	}
	return instance
}
