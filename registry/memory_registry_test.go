package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Register(ctx, "bar", ServiceInstance{Addr: ":8002", Weight: 5}, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "bar", ServiceInstance{Addr: ":8001"}, 10); err != nil {
		t.Fatal(err)
	}

	instances, _ := reg.Discover(ctx, "bar")
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}
	if instances[0].Addr != ":8001" || instances[0].Weight != 1 {
		t.Fatalf("expect sorted list with default weight, got %+v", instances)
	}

	if err := reg.Deregister(ctx, "bar", ":8001"); err != nil {
		t.Fatal(err)
	}
	instances, _ = reg.Discover(ctx, "bar")
	if len(instances) != 1 || instances[0].Addr != ":8002" {
		t.Fatalf("expect only :8002, got %+v", instances)
	}

	// Unknown endpoints and addresses are not errors.
	if err := reg.Deregister(ctx, "nope", ":1"); err != nil {
		t.Fatal(err)
	}
	if instances, _ := reg.Discover(ctx, "nope"); len(instances) != 0 {
		t.Fatalf("expect no instances, got %+v", instances)
	}
}

func TestMemoryRegisterInvalid(t *testing.T) {
	reg := NewMemoryRegistry()
	cases := []struct {
		endpoint string
		instance ServiceInstance
	}{
		{"", ServiceInstance{Addr: ":1"}},
		{"bar", ServiceInstance{}},
		{"bar", ServiceInstance{Addr: ":1", Weight: -1}},
	}
	for _, tc := range cases {
		if err := reg.Register(context.Background(), tc.endpoint, tc.instance, 10); !errors.Is(err, ErrInvalidInstance) {
			t.Errorf("%q %+v: expect ErrInvalidInstance, got %v", tc.endpoint, tc.instance, err)
		}
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "bar")

	reg.Register(ctx, "bar", ServiceInstance{Addr: ":8001"}, 10)
	reg.Register(ctx, "bar", ServiceInstance{Addr: ":8002"}, 10)

	// Only the latest list is kept for a slow watcher.
	select {
	case instances := <-updates:
		if len(instances) != 2 {
			t.Fatalf("expect latest list of 2, got %+v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	reg.Register(ctx, "other", ServiceInstance{Addr: ":9000"}, 10)
	select {
	case instances := <-updates:
		t.Fatalf("unexpected update for another endpoint: %+v", instances)
	default:
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("expect channel closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
