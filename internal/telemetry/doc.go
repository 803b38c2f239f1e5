// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics for rigchat.
//
// # Key Types
//
//   - Metrics: the collector set, registered on a caller-supplied registry
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(reg)
//	m.ObserveRun("text", "done", time.Since(start))
//	mux.Handle("GET /metrics", telemetry.Handler(reg))
//
// Every method is safe on a nil *Metrics, so components can run without
// metrics in tests.
//
// # Privacy
//
// Metrics carry counts and durations only. Prompt and answer text never
// reaches a label.
package telemetry
