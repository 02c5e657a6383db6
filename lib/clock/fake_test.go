// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	c := Fake(testStart)
	if !c.Now().Equal(testStart) {
		t.Errorf("Now() = %v, want %v", c.Now(), testStart)
	}
	c.Advance(3 * time.Second)
	if !c.Now().Equal(testStart.Add(3 * time.Second)) {
		t.Errorf("Now() after Advance = %v", c.Now())
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(testStart)
	ch := c.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(testStart.Add(5 * time.Second)) {
			t.Errorf("fire time = %v", fired)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(testStart)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeAfterFunc(t *testing.T) {
	c := Fake(testStart)
	var calls atomic.Int32
	c.AfterFunc(2*time.Second, func() { calls.Add(1) })

	c.Advance(time.Second)
	if calls.Load() != 0 {
		t.Error("callback fired early")
	}
	c.Advance(time.Second)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	// Further advances must not re-fire a one-shot timer.
	c.Advance(10 * time.Second)
	if calls.Load() != 1 {
		t.Errorf("calls after extra advance = %d, want 1", calls.Load())
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(testStart)
	var calls atomic.Int32
	timer := c.AfterFunc(2*time.Second, func() { calls.Add(1) })

	if !timer.Stop() {
		t.Error("Stop returned false for an active timer")
	}
	c.Advance(5 * time.Second)
	if calls.Load() != 0 {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}
}

func TestFakeAfterFuncReset(t *testing.T) {
	c := Fake(testStart)
	var calls atomic.Int32
	timer := c.AfterFunc(2*time.Second, func() { calls.Add(1) })

	c.Advance(time.Second)
	if !timer.Reset(3 * time.Second) {
		t.Error("Reset returned false for an active timer")
	}
	c.Advance(2 * time.Second) // original deadline passes
	if calls.Load() != 0 {
		t.Error("timer fired at pre-reset deadline")
	}
	c.Advance(time.Second)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFakeOrderedFiring(t *testing.T) {
	c := Fake(testStart)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(testStart)
	done := make(chan struct{})
	go func() {
		c.Sleep(5 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", c.PendingCount())
	}
	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
