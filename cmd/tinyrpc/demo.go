package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tiny-rpc/rpc"
)

// runDemo wires two managers to each other in process and makes a few calls
// in both directions.
func runDemo(out io.Writer) error {
	server := rpc.NewManager()
	if err := registerDemo(server); err != nil {
		return err
	}
	caller := rpc.NewManager(rpc.WithSender(rpc.Loopback(server)))
	ctx := context.Background()

	bar := caller.Proxy("bar")
	greeting, err := bar.Attr("Hello").Call(ctx, "rk")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "bar.Hello(\"rk\") = %v\n", greeting)

	var sum float64
	if err := caller.Proxy("arith").Attr("Sum").CallInto(ctx, &sum, 1, 2, 3.5); err != nil {
		return err
	}
	fmt.Fprintf(out, "arith.Sum(1, 2, 3.5) = %v\n", sum)

	upper, err := caller.Proxy("upper").Call(ctx, "tiny")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "upper(\"tiny\") = %v\n", upper)

	// The other way round: the server calls back into an endpoint the caller
	// serves.
	if err := caller.Register("arith", &Arith{}); err != nil {
		return err
	}
	server.SetSender(rpc.Loopback(caller))
	var back float64
	if err := server.Proxy("arith").Attr("Add").CallInto(ctx, &back, 2, 3); err != nil {
		return err
	}
	fmt.Fprintf(out, "server -> caller arith.Add(2, 3) = %v\n", back)

	for _, p := range []*rpc.Proxy{bar.Attr("Twin").Attr("Hello"), bar.Attr("Secret"), caller.Proxy("nope")} {
		_, err := p.Call(ctx, "rk")
		var remote *rpc.RemoteError
		if !errors.As(err, &remote) {
			return fmt.Errorf("demo: %s: expected a remote error, got %v", p.Path(), err)
		}
		fmt.Fprintf(out, "%s failed: %s\n", p.Path(), remote.Message)
	}
	return nil
}
