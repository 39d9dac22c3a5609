// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health models the health of a server as composable metrics.
package health

import (
	"context"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc is a functional implementation of Metric.
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Binary is a Metric which is either healthy or not. The zero value is healthy.
type Binary struct {
	unhealthy atomic.Bool
}

// Set marks m healthy or unhealthy.
func (m *Binary) Set(healthy bool) {
	m.unhealthy.Store(!healthy)
}

// Toggle flips the state of m.
func (m *Binary) Toggle() {
	for {
		old := m.unhealthy.Load()
		if m.unhealthy.CompareAndSwap(old, !old) {
			return
		}
	}
}

// Healthy implements the [Metric] interface.
func (m *Binary) Healthy(ctx context.Context) bool {
	return !m.unhealthy.Load()
}

// AndMetric is healthy when every underlying Metric is.
type AndMetric struct {
	metrics []Metric
}

// And joins metrics with the logical and (&&) operator.
func And(metrics ...Metric) AndMetric {
	return AndMetric{
		metrics: metrics,
	}
}

// Healthy implements the [Metric] interface.
func (m AndMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m.metrics {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}

// OrMetric is healthy when any underlying Metric is.
type OrMetric struct {
	metrics []Metric
}

// Or joins metrics with the logical or (||) operator.
func Or(metrics ...Metric) OrMetric {
	return OrMetric{
		metrics: metrics,
	}
}

// Healthy implements the [Metric] interface.
func (m OrMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m.metrics {
		if metric.Healthy(ctx) {
			return true
		}
	}
	return false
}

// NotMetric negates a Metric.
type NotMetric struct {
	metric Metric
}

// Not negates metric with the logical not (!) operator.
func Not(metric Metric) NotMetric {
	return NotMetric{
		metric: metric,
	}
}

// Healthy implements the [Metric] interface.
func (m NotMetric) Healthy(ctx context.Context) bool {
	return !m.metric.Healthy(ctx)
}
