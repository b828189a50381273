// Package guard enforces the hosting platform's hard body size ceilings.
package guard

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrRequestTooLarge is returned before any upstream call when the
	// inbound body exceeds the request ceiling.
	ErrRequestTooLarge = errors.New("request body too large")
	// ErrResponseTooLarge is returned when the outbound body would exceed
	// the response ceiling. Responses are never silently truncated.
	ErrResponseTooLarge = errors.New("response body too large")
	// ErrRequestBodyUnreadable is returned when the client's body could not
	// be read to the end.
	ErrRequestBodyUnreadable = errors.New("request body unreadable")
)

// SizeGuard checks request and response bodies against fixed ceilings.
type SizeGuard struct {
	requestMax  int64
	responseMax int64
}

// New creates a SizeGuard with the given ceilings in bytes.
func New(requestMax, responseMax int64) *SizeGuard {
	return &SizeGuard{requestMax: requestMax, responseMax: responseMax}
}

// RequestMax returns the inbound body ceiling.
func (g *SizeGuard) RequestMax() int64 { return g.requestMax }

// ResponseMax returns the outbound body ceiling.
func (g *SizeGuard) ResponseMax() int64 { return g.responseMax }

// ReadRequestBody reads body up to the request ceiling. declared is the
// client's Content-Length (-1 if unknown); a declared size over the ceiling
// fails without reading anything.
func (g *SizeGuard) ReadRequestBody(body io.Reader, declared int64) ([]byte, error) {
	if declared > g.requestMax {
		return nil, fmt.Errorf("%w: declared %d bytes, limit is %d", ErrRequestTooLarge, declared, g.requestMax)
	}
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, g.requestMax+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestBodyUnreadable, err)
	}
	if int64(len(data)) > g.requestMax {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrRequestTooLarge, g.requestMax)
	}
	return data, nil
}

// CheckResponse fails if an outbound body of n bytes would exceed the
// response ceiling.
func (g *SizeGuard) CheckResponse(n int64) error {
	if n > g.responseMax {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrResponseTooLarge, n, g.responseMax)
	}
	return nil
}
