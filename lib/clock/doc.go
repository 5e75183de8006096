// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock reads so that commit timestamps,
// reference update times and garbage-collection age checks are
// deterministic under test. Production code injects [Real]; tests
// inject [Fake] and move time with [FakeClock.Advance].
package clock
