package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryRegistry keeps instances in process. It serves tests and single-host
// deployments where running etcd is not worth it. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, endpoint string, instance ServiceInstance, ttl int64) error {
	if err := validate(endpoint, instance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services[endpoint] == nil {
		r.services[endpoint] = make(map[string]ServiceInstance)
	}
	r.services[endpoint][instance.Addr] = withDefaults(instance)
	r.notify(endpoint)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, endpoint string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[endpoint][addr]; !ok {
		return nil
	}
	delete(r.services[endpoint], addr)
	if len(r.services[endpoint]) == 0 {
		delete(r.services, endpoint)
	}
	r.notify(endpoint)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, endpoint string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(endpoint), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, endpoint string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[endpoint] = append(r.watchers[endpoint], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[endpoint] = slices.DeleteFunc(r.watchers[endpoint], func(c chan []ServiceInstance) bool {
			return c == ch
		})
		close(ch)
	}()
	return ch
}

// list returns the instances of endpoint sorted by address. r.mu must be held.
func (r *MemoryRegistry) list(endpoint string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(r.services[endpoint]))
	for _, inst := range r.services[endpoint] {
		instances = append(instances, inst)
	}
	slices.SortFunc(instances, func(a, b ServiceInstance) int {
		return strings.Compare(a.Addr, b.Addr)
	})
	return instances
}

// notify pushes the current list to every watcher of endpoint, replacing an
// undelivered older list. r.mu must be held.
func (r *MemoryRegistry) notify(endpoint string) {
	instances := r.list(endpoint)
	for _, ch := range r.watchers[endpoint] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
