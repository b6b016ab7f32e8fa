// Package model defines the per-request types passed between the gateway and the forwarder.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest is an inbound request matched by the forwarding route.
// RawPath and RawQuery hold the path and query exactly as the caller sent them.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	RawPath  string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ProxyResponse is the upstream reply relayed back to the caller.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
