// Package model defines the per-request types that flow through the proxy.
package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ByteRange is a single client-requested byte range. End is -1 when the
// range is open-ended (bytes=N-).
type ByteRange struct {
	Start int64
	End   int64
}

// OpenEnded reports whether the range has no explicit last byte.
func (r ByteRange) OpenEnded() bool { return r.End < 0 }

// EffectiveRange is the inclusive byte range actually sent upstream.
type EffectiveRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r EffectiveRange) Len() int64 { return r.End - r.Start + 1 }

// Header renders the range as a Range request header value.
func (r EffectiveRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// InboundRequest is the raw client request as received by the proxy.
type InboundRequest struct {
	Ctx           context.Context
	Method        string
	EscapedPath   string
	RawQuery      string
	Host          string // Host the proxy itself was addressed by
	Header        http.Header
	Body          io.Reader
	ContentLength int64 // -1 if unknown
}

// ProxyRequest is an inbound request addressed to an embedded target URL.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Target *url.URL
	Range  *ByteRange // nil when the client sent no Range header
	Header http.Header
	Body   []byte
}

// UpstreamResult is the raw outcome of a single upstream fetch. It is not
// modified after the fetcher returns it.
type UpstreamResult struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	Truncated     bool   // body exceeded the read limit and was cut short
	ContentLength int64  // entity length the upstream declared, -1 if unknown
	Server        string // upstream-reported identity, empty if absent
	RetrievedAt   time.Time
	Elapsed       time.Duration
	Attempts      int
}

// ProxyResponse is the response written back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
