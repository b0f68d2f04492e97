package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"tiny-rpc/client"
	"tiny-rpc/codec"
	"tiny-rpc/config"
	"tiny-rpc/loadbalance"
	"tiny-rpc/logging"
	"tiny-rpc/rpc"
	"tiny-rpc/transport"
)

// runCall sends one call and prints its JSON result. Without -addr the server
// is found through the configured registry.
func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	addr := fs.String("addr", "", "server address; bypasses discovery")
	kwJSON := fs.String("kw", "", "keyword params as a JSON object")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("call: missing method")
	}
	method := fs.Arg(0)
	params, err := parseParams(fs.Args()[1:])
	if err != nil {
		return err
	}
	var kw map[string]any
	if *kwJSON != "" {
		if err := json.Unmarshal([]byte(*kwJSON), &kw); err != nil {
			return fmt.Errorf("call: -kw: %w", err)
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sender, closeSender, err := newSender(cfg, *addr, logger)
	if err != nil {
		return err
	}
	defer closeSender()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.CallTimeout)
	defer cancel()

	m := rpc.NewManager(rpc.WithSender(sender), rpc.WithLogger(logger))
	result, err := proxyFor(m, method).CallKw(ctx, params, kw)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newSender(cfg config.Config, addr string, logger *zap.Logger) (rpc.Sender, func(), error) {
	ct, err := codec.ParseType(cfg.Client.Codec)
	if err != nil {
		return nil, nil, err
	}

	if addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.DialTimeout)
		defer cancel()
		t, err := transport.Dial(ctx, addr, ct, transport.WithLogger(logger), transport.WithHeartbeat(cfg.Client.Heartbeat))
		if err != nil {
			return nil, nil, err
		}
		return t, func() { t.Close() }, nil
	}

	reg, closeReg, err := openRegistry(cfg.Registry, logger)
	if err != nil {
		return nil, nil, err
	}
	if reg == nil {
		return nil, nil, errors.New("call: no registry configured; pass -addr or set TINYRPC_ETCD_ENDPOINTS")
	}
	bal, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		closeReg()
		return nil, nil, err
	}
	cli := client.NewClient(reg,
		client.WithBalancer(bal),
		client.WithCodec(ct),
		client.WithPoolSize(cfg.Client.PoolSize),
		client.WithDialTimeout(cfg.Client.DialTimeout),
		client.WithHeartbeat(cfg.Client.Heartbeat),
		client.WithLogger(logger),
	)
	return cli, func() {
		cli.Close()
		closeReg()
	}, nil
}

// proxyFor walks a dotted method path from its endpoint.
func proxyFor(m *rpc.Manager, method string) *rpc.Proxy {
	segs := strings.Split(method, ".")
	p := m.Proxy(segs[0])
	for _, seg := range segs[1:] {
		p = p.Attr(seg)
	}
	return p
}

// parseParams decodes each argument as JSON, falling back to the raw string
// so that `call bar.Hello rk` works without quoting.
func parseParams(args []string) ([]any, error) {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		params = append(params, v)
	}
	return params, nil
}
