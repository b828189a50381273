package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"laeproxy-go/internal/guard"
	"laeproxy-go/internal/httpheader"
	"laeproxy-go/internal/metrics"
	"laeproxy-go/internal/model"
	"laeproxy-go/internal/rangepolicy"
)

const retrievedFromNetwork = "Retrieved from network %s"

// Translator maps an upstream result onto the response sent to the client.
type Translator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTranslator creates a Translator. The metrics parameter is optional.
func NewTranslator(logger *slog.Logger, m *metrics.Metrics) *Translator {
	return &Translator{logger: logger, metrics: m}
}

// Translate builds the outbound response for pr from res.
//
// For a range-governed GET an upstream 200 is reframed as 206 covering the
// effective range, and an upstream 206 is checked against it. Every other
// status is passed through. Bodies cut short by the fetcher are never
// forwarded.
func (t *Translator) Translate(pr *model.ProxyRequest, d rangepolicy.Decision, res *model.UpstreamResult) (*model.ProxyResponse, error) {
	header := t.responseHeader(res.Header, pr.Target)

	status, body := res.StatusCode, res.Body
	var err error
	switch {
	case d.Applies && res.StatusCode == http.StatusPartialContent:
		body, err = t.partial(d, res, header)
	case d.Applies && d.MustReframe && res.StatusCode == http.StatusOK:
		status, body, err = t.reframe(d, res, header)
	case res.Truncated:
		err = fmt.Errorf("%w: upstream %d body exceeds %d bytes", guard.ErrResponseTooLarge, res.StatusCode, len(res.Body))
	}
	if err != nil {
		return nil, err
	}

	header.Del("Content-Length")
	switch {
	case pr.Method == http.MethodHead:
		if res.ContentLength >= 0 {
			header.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
		}
	case bodyAllowed(status):
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	if status >= 200 && status < 300 {
		header.Set(model.HeaderResult, fmt.Sprintf(retrievedFromNetwork, res.RetrievedAt.Format(time.RFC3339)))
		header.Set(model.HeaderUpstreamStatusCode, strconv.Itoa(res.StatusCode))
		header.Set(model.HeaderUpstreamServer, res.Server)
	}

	return &model.ProxyResponse{StatusCode: status, Header: header, Body: body}, nil
}

// partial validates an upstream 206 against the effective range.
func (t *Translator) partial(d rangepolicy.Decision, res *model.UpstreamResult, header http.Header) ([]byte, error) {
	want := d.Range
	if res.Truncated || int64(len(res.Body)) > want.Len() {
		return nil, fmt.Errorf("%w: asked for %s, got more than %d bytes",
			ErrUpstreamRangeViolation, want.Header(), want.Len())
	}

	cr := res.Header.Get("Content-Range")
	if cr != "" {
		header.Set(model.HeaderUpstreamContentRange, cr)
	}
	first, last, _, ok := parseContentRange(cr)
	if !ok {
		t.logger.Warn("unparseable upstream Content-Range, returning 206 as-is", "content_range", cr)
		return res.Body, nil
	}
	if first != want.Start || last > want.End {
		return nil, fmt.Errorf("%w: asked for %s, got %q", ErrUpstreamRangeViolation, want.Header(), cr)
	}
	if n := int64(len(res.Body)); n != last-first+1 {
		return nil, fmt.Errorf("%w: Content-Range %q does not match a %d byte body", ErrUpstreamRangeViolation, cr, n)
	}
	return res.Body, nil
}

// reframe turns an upstream 200, which ignored the Range header, into a 206
// carrying just the effective range.
func (t *Translator) reframe(d rangepolicy.Decision, res *model.UpstreamResult, header http.Header) (int, []byte, error) {
	want := d.Range
	n := int64(len(res.Body))

	total := int64(-1)
	switch {
	case !res.Truncated:
		total = n
	case res.ContentLength >= 0:
		total = res.ContentLength
	}

	header.Del("Content-Range")

	if want.Start >= n {
		switch {
		case res.Truncated:
			return 0, nil, fmt.Errorf("%w: origin ignored the range and sent more than %d bytes",
				guard.ErrResponseTooLarge, n)
		case n == 0 && d.Requested == nil:
			// Nothing to frame: an empty entity fetched without a client range.
			return http.StatusOK, res.Body, nil
		}
		header.Set("Content-Range", "bytes */"+strconv.FormatInt(n, 10))
		return http.StatusRequestedRangeNotSatisfiable, nil, nil
	}

	end := min(want.End, n-1)
	if end < want.End && res.Truncated {
		return 0, nil, fmt.Errorf("%w: origin ignored the range and sent more than %d bytes",
			guard.ErrResponseTooLarge, n)
	}

	header.Set("Content-Range", contentRange(want.Start, end, total))
	header.Set("Accept-Ranges", "bytes")
	if t.metrics != nil {
		t.metrics.ResponsesReframed.Inc()
	}
	t.logger.Debug("reframed upstream 200 as 206", "start", want.Start, "end", end, "total", total)

	return http.StatusPartialContent, res.Body[want.Start : end+1], nil
}

// responseHeader copies the upstream header minus hop-by-hop fields, and
// makes a relative Location absolute against the target.
func (t *Translator) responseHeader(src http.Header, target *url.URL) http.Header {
	h := src.Clone()
	if h == nil {
		h = make(http.Header)
	}
	httpheader.RemoveHopByHop(h)

	if loc := h.Get("Location"); loc != "" {
		if u, err := url.Parse(loc); err == nil && !u.IsAbs() {
			abs := target.ResolveReference(u).String()
			t.logger.Debug("rewrote relative Location", "from", loc, "to", abs)
			h.Set("Location", abs)
		}
	}
	return h
}

func contentRange(start, end, total int64) string {
	t := "*"
	if total >= 0 {
		t = strconv.FormatInt(total, 10)
	}
	return fmt.Sprintf("bytes %d-%d/%s", start, end, t)
}

// parseContentRange parses "bytes first-last/total". total is -1 for "*".
func parseContentRange(s string) (first, last, total int64, ok bool) {
	spec, found := strings.CutPrefix(s, "bytes ")
	if !found {
		return 0, 0, 0, false
	}
	span, size, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, 0, false
	}
	a, b, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, 0, false
	}
	var err error
	if first, err = strconv.ParseInt(a, 10, 64); err != nil || first < 0 {
		return 0, 0, 0, false
	}
	if last, err = strconv.ParseInt(b, 10, 64); err != nil || last < first {
		return 0, 0, 0, false
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil || total <= last {
			return 0, 0, 0, false
		}
	}
	return first, last, total, true
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
