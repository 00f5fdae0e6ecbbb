// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/chorus/pkg/errors"
)

// Metrics counts orchestration outcomes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests       metric.Int64Counter
	cacheLookups   metric.Int64Counter
	toolCalls      metric.Int64Counter
	errors         metric.Int64Counter
	collaborations metric.Int64Counter
	chunks         metric.Int64Counter
}

// NewMetrics registers the chorus instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("chorus/orchestrator")
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter("chorus.requests.total",
		metric.WithDescription("Processed inputs by path")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("chorus.cache.lookups",
		metric.WithDescription("Response cache lookups by result (hit, miss)")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("chorus.tools.calls",
		metric.WithDescription("Tool executions by tool and outcome")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("chorus.errors.total",
		metric.WithDescription("Error chunks emitted by error code")); err != nil {
		return nil, err
	}
	if m.collaborations, err = meter.Int64Counter("chorus.collaborations.total",
		metric.WithDescription("Inputs fanned out to other personas")); err != nil {
		return nil, err
	}
	if m.chunks, err = meter.Int64Counter("chorus.response.chunks",
		metric.WithDescription("Streamed backend fragments by persona")); err != nil {
		return nil, err
	}
	return m, nil
}

// Request counts one processed input.
func (m *Metrics) Request(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPath, path)))
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(ctx context.Context, persona string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPersona, persona),
		attribute.String("result", result),
	))
}

// ToolCall counts a tool execution.
func (m *Metrics) ToolCall(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(ToolAttributes(tool, success)...))
}

// Error counts an error surfaced to the caller, classified by code.
func (m *Metrics) Error(ctx context.Context, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(errors.As(err).Code)),
	))
}

// Collaboration counts a fan-out and the number of personas it reached.
func (m *Metrics) Collaboration(ctx context.Context, persona string) {
	if m == nil {
		return
	}
	m.collaborations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPersona, persona)))
}

// Chunk counts one streamed fragment.
func (m *Metrics) Chunk(ctx context.Context, persona string) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPersona, persona)))
}
