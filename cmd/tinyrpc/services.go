package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tiny-rpc/rpc"
)

// Greeter is the "bar" demo endpoint.
type Greeter struct {
	Twin *Twin
}

func (g *Greeter) PublicMembers() []string { return []string{"Hello", "Twin", "Host"} }

func (g *Greeter) Hello(name string) string { return fmt.Sprintf("Bar greets %s", name) }

// Host reports which server answered, useful when several are registered.
func (g *Greeter) Host() (string, error) { return os.Hostname() }

// Secret is not listed and cannot be called remotely.
func (g *Greeter) Secret() string { return "secret" }

// Twin is reachable as bar.Twin; its Hello always fails.
type Twin struct{}

func (t *Twin) PublicMembers() []string { return []string{"Hello"} }

func (t *Twin) Hello(name string) (string, error) { return "", errors.New("not implemented") }

// Arith is the "arith" demo endpoint.
type Arith struct{}

func (a *Arith) PublicMembers() []string { return []string{"Add", "Sum", "Sleep"} }

func (a *Arith) Add(x, y float64) float64 { return x + y }

func (a *Arith) Sum(nums ...float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

// Sleep waits ms milliseconds or until the call is cancelled.
func (a *Arith) Sleep(ctx context.Context, ms int) (int, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return ms, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// registerDemo registers the demo endpoints: bar, arith and upper (a bare
// function).
func registerDemo(m *rpc.Manager) error {
	upper, err := rpc.Public(strings.ToUpper)
	if err != nil {
		return err
	}
	for name, obj := range map[string]any{
		"bar":   &Greeter{Twin: &Twin{}},
		"arith": &Arith{},
		"upper": upper,
	} {
		if err := m.Register(name, obj); err != nil {
			return err
		}
	}
	return nil
}
