// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Code that measures durations or waits with a deadline takes a Clock
// instead of calling time.Now or time.After. Production wires Real();
// tests wire Fake() and move time explicitly with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForChild(c)
//	c.WaitForTimers(1) // the goroutine has called After
//	c.Advance(5 * time.Second)
package clock
