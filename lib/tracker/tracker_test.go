// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
)

func TestTrackStartsAtOne(t *testing.T) {
	objects := NewObjectTracker[string]()
	first, err := objects.Track("a")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := objects.Track("b")
	if first != 1 || second != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", first, second)
	}
}

func TestRemovedIDIsNotReissued(t *testing.T) {
	objects := NewObjectTracker[string]()
	id, _ := objects.Track("socket-a")
	if _, ok := objects.Remove(id); !ok {
		t.Fatal("Remove of live id failed")
	}
	next, _ := objects.Track("socket-b")
	if next == id {
		t.Fatalf("released id %d reissued immediately", id)
	}
	if _, ok := objects.Get(id); ok {
		t.Errorf("Get(%d) found a value after release", id)
	}
}

func TestDoubleRemoveIsNoop(t *testing.T) {
	objects := NewObjectTracker[string]()
	keep, _ := objects.Track("keep")
	drop, _ := objects.Track("drop")

	if _, ok := objects.Remove(drop); !ok {
		t.Fatal("first Remove failed")
	}
	if _, ok := objects.Remove(drop); ok {
		t.Error("second Remove reported success")
	}
	if value, ok := objects.Get(keep); !ok || value != "keep" {
		t.Errorf("unrelated id disturbed: %q, %v", value, ok)
	}
	if objects.Len() != 1 {
		t.Errorf("Len = %d, want 1", objects.Len())
	}
}

func TestNeverIssuedID(t *testing.T) {
	objects := NewObjectTracker[int]()
	if _, ok := objects.Get(0); ok {
		t.Error("Get(0) found a value")
	}
	if _, ok := objects.Get(77); ok {
		t.Error("Get(77) found a value")
	}
	if objects.Replace(77, 1) {
		t.Error("Replace of unknown id succeeded")
	}
}

func TestUpdateAndReplace(t *testing.T) {
	objects := NewObjectTracker[int]()
	id, _ := objects.Track(1)
	if !objects.Update(id, func(v *int) { *v += 41 }) {
		t.Fatal("Update failed")
	}
	if value, _ := objects.Get(id); value != 42 {
		t.Errorf("after Update = %d", value)
	}
	if !objects.Replace(id, 7) {
		t.Fatal("Replace failed")
	}
	if value, _ := objects.Get(id); value != 7 {
		t.Errorf("after Replace = %d", value)
	}
}

func TestClearReturnsValuesInOrder(t *testing.T) {
	objects := NewObjectTracker[string]()
	for _, name := range []string{"a", "b", "c"} {
		objects.Track(name)
	}
	values := objects.Clear()
	if !slices.Equal(values, []string{"a", "b", "c"}) {
		t.Errorf("Clear = %v", values)
	}
	if objects.Len() != 0 {
		t.Errorf("Len after Clear = %d", objects.Len())
	}
	next, _ := objects.Track("d")
	if next != 4 {
		t.Errorf("id after Clear = %d, want 4 (counter keeps position)", next)
	}
}

func TestWraparoundSkipsZeroAndLiveIDs(t *testing.T) {
	objects := NewObjectTracker[string]()
	objects.entries[1] = "still-live"
	objects.last = math.MaxUint32 - 1

	id, err := objects.Track("at-max")
	if err != nil || id != math.MaxUint32 {
		t.Fatalf("Track = %d, %v; want MaxUint32", id, err)
	}
	id, err = objects.Track("wrapped")
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Errorf("after wrap id = %d, want 2 (skip 0 and live 1)", id)
	}
}

// TestNoAliasingUnderRandomOperations checks that, for random
// track/remove sequences, a removed id never resolves to a value.
func TestNoAliasingUnderRandomOperations(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	objects := NewObjectTracker[int]()
	live := map[uint32]int{}
	released := map[uint32]bool{}

	for step := range 5000 {
		if len(live) == 0 || random.IntN(3) > 0 {
			id, err := objects.Track(step)
			if err != nil {
				t.Fatal(err)
			}
			if released[id] {
				t.Fatalf("step %d: released id %d reissued", step, id)
			}
			if _, exists := live[id]; exists {
				t.Fatalf("step %d: live id %d reissued", step, id)
			}
			live[id] = step
			continue
		}
		var victim uint32
		for id := range live {
			victim = id
			break
		}
		value, ok := objects.Remove(victim)
		if !ok || value != live[victim] {
			t.Fatalf("step %d: Remove(%d) = %d, %v", step, victim, value, ok)
		}
		delete(live, victim)
		released[victim] = true
		if _, ok := objects.Get(victim); ok {
			t.Fatalf("step %d: Get(%d) after remove found a value", step, victim)
		}
	}
}

func TestConcurrentTrackUniqueIDs(t *testing.T) {
	objects := NewObjectTracker[int]()
	const workers, perWorker = 8, 200
	results := make(chan uint32, workers*perWorker)
	var wait sync.WaitGroup
	for worker := range workers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for i := range perWorker {
				id, err := objects.Track(worker*perWorker + i)
				if err != nil {
					t.Error(err)
					return
				}
				results <- id
			}
		}()
	}
	wait.Wait()
	close(results)

	seen := map[uint32]bool{}
	for id := range results {
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("got %d ids", len(seen))
	}
}

func TestProxyTracker(t *testing.T) {
	proxies := NewProxyTracker[string]()
	if proxies.Track(0, "zero") {
		t.Error("Track(0) accepted")
	}
	if !proxies.Track(9, "observer") {
		t.Fatal("Track(9) refused")
	}
	if proxies.Track(9, "duplicate") {
		t.Error("duplicate Track(9) accepted")
	}
	if value, ok := proxies.Get(9); !ok || value != "observer" {
		t.Errorf("Get(9) = %q, %v", value, ok)
	}
	proxies.Track(3, "delegate")
	if got := proxies.Clear(); !slices.Equal(got, []string{"delegate", "observer"}) {
		t.Errorf("Clear = %v", got)
	}
	if _, ok := proxies.Remove(9); ok {
		t.Error("Remove after Clear succeeded")
	}
}

func TestIDFactory(t *testing.T) {
	factory := NewIDFactory(1, 1)
	for want := uint32(1); want <= 3; want++ {
		if got := factory.Next(); got != want {
			t.Errorf("Next = %d, want %d", got, want)
		}
	}

	sequence := NewServerSequence()
	for _, want := range []uint64{2, 4, 6} {
		if got := sequence.Next(); got != want {
			t.Errorf("server sequence = %d, want %d", got, want)
		}
	}
}

func TestSessionTrackerIDString(t *testing.T) {
	id := SessionTrackerID{Session: 4, Service: 2}
	if id.String() != "4/2" {
		t.Errorf("String = %q", id.String())
	}
}
