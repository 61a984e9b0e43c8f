// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// RequestEnvelope is an inbound request with its body fully materialized.
// The body is buffered eagerly because it may be parsed as JSON by the
// search validator and, on fallback, re-sent upstream byte-for-byte.
// Envelopes are built once per request and treated as read-only.
type RequestEnvelope struct {
	Ctx        context.Context
	Method     string
	Path       string
	RawQuery   string
	RequestURI string
	Host       string
	Header     http.Header
	Body       []byte
}

// ResponseEnvelope is a materialized response, produced either by the
// canned-result synthesizer or by the upstream forwarder.
type ResponseEnvelope struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
