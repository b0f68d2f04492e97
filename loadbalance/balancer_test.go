package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"tiny-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	seen := map[string]bool{}
	first := ""
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("bar", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = inst.Addr
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expect all 3 instances, got %v", seen)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("bar", testInstances)
	if inst.Addr != first {
		t.Fatalf("expect wrap around to %s, got %s", first, inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("bar", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("bar", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	instances := []registry.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}}
	if _, err := b.Pick("bar", instances); err != nil {
		t.Fatal(err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("user-123", testInstances)
	inst2, _ := b.Pick("user-123", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuild(t *testing.T) {
	b := NewConsistentHashBalancer()
	inst, _ := b.Pick("user-123", testInstances)

	// Removing the instance the key maps to moves the key elsewhere.
	var rest []registry.ServiceInstance
	for _, i := range testInstances {
		if i.Addr != inst.Addr {
			rest = append(rest, i)
		}
	}
	moved, err := b.Pick("user-123", rest)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Addr == inst.Addr {
		t.Fatalf("key still maps to removed instance %s", inst.Addr)
	}

	// Order of the list does not matter.
	reversed := []registry.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	again, _ := b.Pick("user-123", reversed)
	if again.Addr != inst.Addr {
		t.Fatalf("expect %s after restoring the set, got %s", inst.Addr, again.Addr)
	}
}

func TestConsistentHashInstanceUpdate(t *testing.T) {
	b := NewConsistentHashBalancer()
	inst, _ := b.Pick("user-123", testInstances)

	// Same addresses, new weight and version for every instance.
	updated := make([]registry.ServiceInstance, len(testInstances))
	for i, in := range testInstances {
		updated[i] = registry.ServiceInstance{Addr: in.Addr, Weight: in.Weight + 10, Version: "v2"}
	}
	got, err := b.Pick("user-123", updated)
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != inst.Addr {
		t.Fatalf("expect key to stay on %s, got %s", inst.Addr, got.Addr)
	}
	if got.Version != "v2" || got.Weight != inst.Weight+10 {
		t.Fatalf("expect the updated instance, got %+v", got)
	}
}

func TestNew(t *testing.T) {
	cases := map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	}
	for name, want := range cases {
		b, err := New(name)
		if err != nil || b.Name() != want {
			t.Errorf("%q: expect %s, got %v (%v)", name, want, b, err)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
