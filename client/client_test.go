package client

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"tiny-rpc/codec"
	"tiny-rpc/loadbalance"
	"tiny-rpc/message"
	"tiny-rpc/middleware"
	"tiny-rpc/registry"
	"tiny-rpc/rpc"
	"tiny-rpc/server"
)

// ---- Services used by the tests ----

type Args struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Arith struct {
	name string
}

func (a *Arith) PublicMembers() []string { return []string{"Add", "Multiply", "Sum", "Who"} }

func (a *Arith) Add(x, y int) int { return x + y }

func (a *Arith) Multiply(args Args) int { return args.A * args.B }

func (a *Arith) Sum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}

func (a *Arith) Who() string { return a.name }

// startServer serves "arith" on a loopback port and advertises it in reg.
func startServer(t testing.TB, reg registry.Registry, name string, opts ...server.Option) *server.Server {
	t.Helper()
	m := rpc.NewManager()
	if err := m.Register("arith", &Arith{name: name}); err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(m, append(opts, server.WithRegistry(reg, ""))...)
	svr.Use(middleware.TimeOutMiddleware(time.Second))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})

	// Wait until the endpoint is advertised.
	deadline := time.Now().Add(time.Second)
	for {
		instances, _ := reg.Discover(context.Background(), "arith")
		for _, inst := range instances {
			if inst.Addr == l.Addr().String() {
				return svr
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("server was not advertised")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// newCaller returns a Manager whose proxies send through a discovery client.
func newCaller(t testing.TB, reg registry.Registry, opts ...Option) (*rpc.Manager, *Client) {
	t.Helper()
	cli := NewClient(reg, opts...)
	t.Cleanup(func() { cli.Close() })
	return rpc.NewManager(rpc.WithSender(cli)), cli
}

func TestClientCall(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	caller, _ := newCaller(t, reg)
	arith := caller.Proxy("arith")
	ctx := context.Background()

	// Add(1, 2) = 3
	var sum int
	if err := arith.Attr("Add").CallInto(ctx, &sum, 1, 2); err != nil {
		t.Fatal(err)
	}
	if sum != 3 {
		t.Fatalf("expect 3, got %v", sum)
	}

	// Multiply({a: 4, b: 6}) = 24, the struct argument travels as a map
	var product int
	if err := arith.Attr("Multiply").CallInto(ctx, &product, Args{A: 4, B: 6}); err != nil {
		t.Fatal(err)
	}
	if product != 24 {
		t.Fatalf("expect 24, got %v", product)
	}

	// Variadic
	total, err := arith.Attr("Sum").Call(ctx, 1, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if total != float64(10) {
		t.Fatalf("expect 10, got %v", total)
	}
}

func TestClientCallWithBinaryCodec(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	caller, _ := newCaller(t, reg, WithCodec(codec.CodecTypeBinary))

	var sum int
	if err := caller.Proxy("arith").Attr("Add").CallInto(context.Background(), &sum, 10, 20); err != nil {
		t.Fatal(err)
	}
	if sum != 30 {
		t.Fatalf("expect 30, got %v", sum)
	}
}

func TestClientRemoteError(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	caller, _ := newCaller(t, reg)

	_, err := caller.Proxy("arith").Attr("Divide").Call(context.Background(), 1, 0)
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect *rpc.RemoteError, got %v", err)
	}
	if remote.Message != "attribute does not exist: Divide" || remote.Method != "arith.Divide" {
		t.Fatalf("unexpected remote error %+v", remote)
	}
}

func TestClientNoInstances(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	caller, _ := newCaller(t, reg)

	_, err := caller.Proxy("arith").Attr("Add").Call(context.Background(), 1, 2)
	if !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestClientSkipsIncompatibleVersion(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	reg.Register(context.Background(), "arith", registry.ServiceInstance{Addr: "127.0.0.1:1", Version: "2.0"}, 10)
	caller, _ := newCaller(t, reg)

	_, err := caller.Proxy("arith").Attr("Add").Call(context.Background(), 1, 2)
	if !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestClientInvalidRequest(t *testing.T) {
	cli := NewClient(registry.NewMemoryRegistry())
	defer cli.Close()
	if _, err := cli.Send(context.Background(), &message.Request{Version: message.Version, Method: "arith..Add"}); !errors.Is(err, message.ErrInvalidRequest) {
		t.Fatalf("expect ErrInvalidRequest, got %v", err)
	}
}

func TestClientClosed(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	caller, cli := newCaller(t, reg)

	if _, err := caller.Proxy("arith").Attr("Add").Call(context.Background(), 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := cli.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := caller.Proxy("arith").Attr("Add").Call(context.Background(), 1, 2); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expect ErrClientClosed, got %v", err)
	}
}

// Calls are spread over every advertised server.
func TestMultiServer(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	startServer(t, reg, "s2")
	caller, _ := newCaller(t, reg, WithBalancer(&loadbalance.RoundRobinBalancer{}), WithPoolSize(2))

	seen := map[string]int{}
	for i := 1; i <= 10; i++ {
		who, err := caller.Proxy("arith").Attr("Who").Call(context.Background())
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		seen[who.(string)]++
	}
	if seen["s1"] != 5 || seen["s2"] != 5 {
		t.Fatalf("expect an even split, got %v", seen)
	}
}

// A server leaving the registry stops receiving calls.
func TestServerLeaves(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	s2 := startServer(t, reg, "s2")
	caller, _ := newCaller(t, reg)

	if err := s2.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		who, err := caller.Proxy("arith").Attr("Who").Call(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if who != "s1" {
			t.Fatalf("expect s1 only, got %v", who)
		}
	}
}

func TestConcurrentCalls(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "s1")
	startServer(t, reg, "s2")
	caller, _ := newCaller(t, reg, WithBalancer(loadbalance.NewConsistentHashBalancer()))

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			var sum int
			if err := caller.Proxy("arith").Attr("Add").CallInto(context.Background(), &sum, i, i); err != nil {
				return err
			}
			if sum != 2*i {
				return errors.New("wrong sum")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// Runs against a real etcd when TINYRPC_ETCD_ENDPOINTS is set.
func TestFullIntegrationWithEtcd(t *testing.T) {
	endpoints := os.Getenv("TINYRPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("TINYRPC_ETCD_ENDPOINTS not set")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), nil)
	if err != nil {
		t.Fatalf("failed to connect etcd: %v", err)
	}
	defer reg.Close()

	startServer(t, reg, "s1")
	startServer(t, reg, "s2")
	caller, _ := newCaller(t, reg, WithBalancer(&loadbalance.WeightedRandomBalancer{}))

	for i := 1; i <= 10; i++ {
		var sum int
		if err := caller.Proxy("arith").Attr("Add").CallInto(context.Background(), &sum, i, i*10); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if sum != i+i*10 {
			t.Fatalf("request %d: expect %d, got %d", i, i+i*10, sum)
		}
	}
}
