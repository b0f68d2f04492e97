package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/tiny-rpc/"

// EtcdRegistry stores instances in etcd v3:
//
//	Key:   /tiny-rpc/{endpoint}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Every registration is bound to its own TTL lease kept alive in the
// background, so the entry expires once the registering process dies.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]registration // by key
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints. A nil logger is
// replaced by a no-op one.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]registration),
	}, nil
}

func instanceKey(endpoint, addr string) string {
	return keyPrefix + endpoint + "/" + addr
}

func endpointPrefix(endpoint string) string {
	return keyPrefix + endpoint + "/"
}

// Register puts the instance under a fresh lease of ttl seconds and keeps the
// lease alive until Deregister or Close. Registering the same address again
// replaces the previous lease.
//
// leaseID stays local to the call so several servers may share one
// EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, endpoint string, instance ServiceInstance, ttl int64) error {
	if err := validate(endpoint, instance); err != nil {
		return err
	}
	val, err := json.Marshal(withDefaults(instance))
	if err != nil {
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	key := instanceKey(endpoint, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive outlives ctx, which only bounds the registration itself.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	old, ok := r.leases[key]
	r.leases[key] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()
	if ok {
		old.cancel()
	}
	return nil
}

// Deregister stops the keepalive, deletes the key and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, endpoint string, addr string) error {
	key := instanceKey(endpoint, addr)
	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	if ok {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Discover returns every instance registered under endpoint. Malformed
// entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, endpoint string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, endpointPrefix(endpoint), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the instance list on every change under the endpoint prefix
// (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(ctx context.Context, endpoint string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, endpointPrefix(endpoint), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, endpoint)
			if err != nil {
				r.logger.Warn("rediscover after watch event", zap.String("endpoint", endpoint), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops all keepalives and closes the etcd client. Leases left behind
// expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, reg := range r.leases {
		reg.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
