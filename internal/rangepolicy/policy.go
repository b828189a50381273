// Package rangepolicy decides which byte range the proxy asks the origin
// for, given the client's Range header and the per-response chunk ceiling.
package rangepolicy

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"laeproxy-go/internal/model"
)

// ErrInvalidRange is returned for Range headers the proxy refuses to honor:
// bad syntax, unsupported units, multiple ranges, suffix ranges, or
// inverted bounds.
var ErrInvalidRange = errors.New("invalid range")

const bytesUnit = "bytes="

// Parse parses a single-range Range header of the form bytes=first-[last].
// An empty header yields a nil range and no error.
func Parse(header string) (*model.ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	if len(header) < len(bytesUnit) || !strings.EqualFold(header[:len(bytesUnit)], bytesUnit) {
		return nil, fmt.Errorf("%w: unsupported range unit in %q", ErrInvalidRange, header)
	}
	spec := strings.TrimSpace(header[len(bytesUnit):])
	if spec == "" {
		return nil, fmt.Errorf("%w: empty range-set", ErrInvalidRange)
	}
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges are not supported", ErrInvalidRange)
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: missing '-' in %q", ErrInvalidRange, spec)
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" {
		// suffix-range: the absolute position depends on a total we don't know yet.
		return nil, fmt.Errorf("%w: suffix ranges are not supported", ErrInvalidRange)
	}

	start, err := parsePos(first)
	if err != nil {
		return nil, err
	}
	r := &model.ByteRange{Start: start, End: -1}
	if last == "" {
		return r, nil
	}
	end, err := parsePos(last)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("%w: last-pos %d precedes first-pos %d", ErrInvalidRange, end, start)
	}
	r.End = end
	return r, nil
}

// parsePos parses a non-negative decimal byte position.
func parsePos(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: bad byte position %q", ErrInvalidRange, s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: byte position %q out of range", ErrInvalidRange, s)
	}
	return n, nil
}

// Decision is the outcome of applying the policy to one request.
type Decision struct {
	// Applies is false for methods range handling is not defined for; such
	// requests are forwarded without a Range header.
	Applies   bool
	Requested *model.ByteRange
	Range     model.EffectiveRange
	// MustReframe marks responses that have to reach the client as 206
	// even if the origin sends back a 200.
	MustReframe bool
	// Clamped is set when the requested range was narrowed to the chunk size.
	Clamped bool
}

// Policy computes effective ranges against a fixed chunk ceiling.
type Policy struct {
	maxChunk int64
}

// New returns a Policy that never requests more than maxChunk bytes.
func New(maxChunk int64) *Policy {
	return &Policy{maxChunk: maxChunk}
}

// MaxChunk returns the configured chunk ceiling.
func (p *Policy) MaxChunk() int64 { return p.maxChunk }

// Decide applies the policy to a request method and its raw Range header.
func (p *Policy) Decide(method, rangeHeader string) (Decision, error) {
	if method != http.MethodGet {
		return Decision{}, nil
	}

	requested, err := Parse(rangeHeader)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Applies: true, Requested: requested, MustReframe: true}
	if requested == nil {
		d.Range = model.EffectiveRange{Start: 0, End: p.maxChunk - 1}
		return d, nil
	}

	limit := p.lastAllowed(requested.Start)
	switch {
	case requested.OpenEnded():
		d.Range = model.EffectiveRange{Start: requested.Start, End: limit}
		d.Clamped = true
	case requested.End > limit:
		d.Range = model.EffectiveRange{Start: requested.Start, End: limit}
		d.Clamped = true
	default:
		d.Range = model.EffectiveRange{Start: requested.Start, End: requested.End}
	}
	return d, nil
}

// lastAllowed returns the last byte position reachable from start within
// one chunk.
func (p *Policy) lastAllowed(start int64) int64 {
	if start > math.MaxInt64-p.maxChunk {
		return math.MaxInt64
	}
	return start + p.maxChunk - 1
}
