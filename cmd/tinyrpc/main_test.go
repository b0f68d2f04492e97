package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tiny-rpc/config"
	"tiny-rpc/rpc"
)

func TestDemo(t *testing.T) {
	var out bytes.Buffer
	if err := runDemo(&out); err != nil {
		t.Fatal(err)
	}
	want := `bar.Hello("rk") = Bar greets rk
arith.Sum(1, 2, 3.5) = 6.5
upper("tiny") = TINY
server -> caller arith.Add(2, 3) = 5
bar.Twin.Hello failed: not implemented
bar.Secret failed: attribute is not public: Secret
nope failed: endpoint not found: nope
`
	if out.String() != want {
		t.Fatalf("unexpected demo output:\n%s", out.String())
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"rk", "3", `{"a":1}`, `"quoted"`})
	if err != nil {
		t.Fatal(err)
	}
	if params[0] != "rk" || params[1] != float64(3) || params[3] != "quoted" {
		t.Fatalf("unexpected params %#v", params)
	}
	if m, ok := params[2].(map[string]any); !ok || m["a"] != float64(1) {
		t.Fatalf("expect object param, got %#v", params[2])
	}
}

func TestCallDirect(t *testing.T) {
	t.Setenv("TINYRPC_ETCD_ENDPOINTS", "")
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.RateLimit = config.RateLimitConfig{RPS: 100, Burst: 10}
	cfg.Server.Retries = 1

	m := rpc.NewManager()
	if err := registerDemo(m); err != nil {
		t.Fatal(err)
	}
	svr, err := buildServer(cfg, m, nil, prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	}()

	var out bytes.Buffer
	if err := runCall([]string{"-addr", l.Addr().String(), "bar.Hello", "rk"}, &out); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != `"Bar greets rk"` {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := runCall([]string{"-addr", l.Addr().String(), "arith.Add", "2", "40"}, &out); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "42" {
		t.Fatalf("unexpected output %q", out.String())
	}

	err = runCall([]string{"-addr", l.Addr().String(), "bar.Secret"}, &out)
	if err == nil || !strings.Contains(err.Error(), "attribute is not public: Secret") {
		t.Fatalf("expect remote visibility error, got %v", err)
	}
}

func TestCallWithoutRegistry(t *testing.T) {
	t.Setenv("TINYRPC_ETCD_ENDPOINTS", "")
	if err := runCall([]string{"bar.Hello", "rk"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expect error without -addr or registry")
	}
}
