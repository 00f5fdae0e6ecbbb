// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry tracing and metrics for chorus.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on chorus spans and metrics.
const (
	AttrSessionID = "chorus.session.id"
	AttrPersona   = "chorus.persona"
	AttrPath      = "chorus.path" // switch, tool, chat, cached, collaborate
	AttrDepth     = "chorus.collaboration.depth"
	AttrChunks    = "chorus.response.chunks"

	AttrToolName    = "chorus.tool.name"
	AttrToolSuccess = "chorus.tool.success"

	AttrErrorCode = "chorus.error.code"

	AttrLLMModel = "gen_ai.request.model"
)

// RequestAttributes returns the attributes set on every Process span.
func RequestAttributes(sessionID, persona string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrPersona, persona)}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return attrs
}

// ChatAttributes returns attributes for a backend chat span.
func ChatAttributes(persona, model string, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPersona, persona),
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrDepth, depth),
	}
}

// ToolAttributes returns attributes for a tool execution.
func ToolAttributes(name string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Bool(AttrToolSuccess, success),
	}
}
