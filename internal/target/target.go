// Package target reconstructs the origin URL embedded in a proxy request path.
//
// Requests are addressed as /<scheme>/<host>[:port]/<path>[?query]; the
// resolver turns that back into <scheme>://<host>[:port]/<path>[?query].
package target

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrMalformedTarget is returned when the request path does not embed a
// usable http(s) URL.
var ErrMalformedTarget = errors.New("malformed target")

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// Resolve parses an escaped request path and raw query into the target URL.
// Percent-encoded sequences in the path and query are carried over verbatim.
func Resolve(escapedPath, rawQuery string) (*url.URL, error) {
	p := strings.TrimPrefix(escapedPath, "/")

	scheme, rest, ok := strings.Cut(p, "/")
	if !ok {
		return nil, fmt.Errorf("%w: path must have the form /<scheme>/<host>/<path>", ErrMalformedTarget)
	}
	if !allowedSchemes[scheme] {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedTarget, scheme)
	}

	hostPart, tail, hasTail := strings.Cut(rest, "/")
	host, err := resolveHost(hostPart)
	if err != nil {
		return nil, err
	}

	rawPath := "/"
	if hasTail {
		rawPath = "/" + tail
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: bad path encoding: %v", ErrMalformedTarget, err)
	}
	if strings.ContainsAny(rawPath, " \t\r\n") {
		return nil, fmt.Errorf("%w: path contains whitespace", ErrMalformedTarget)
	}
	if strings.ContainsAny(rawQuery, " \t\r\n") {
		return nil, fmt.Errorf("%w: query contains whitespace", ErrMalformedTarget)
	}

	u := &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     decoded,
		RawPath:  rawPath,
		RawQuery: rawQuery,
	}

	// Round-trip to catch anything url.URL would refuse to send.
	if _, err := url.Parse(u.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTarget, err)
	}
	return u, nil
}

// resolveHost validates the host[:port] segment and converts
// internationalized names to their ASCII form.
func resolveHost(segment string) (string, error) {
	raw, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("%w: bad host encoding: %v", ErrMalformedTarget, err)
	}
	if raw == "" {
		return "", fmt.Errorf("%w: missing host", ErrMalformedTarget)
	}
	if strings.ContainsAny(raw, "@/?# ") {
		return "", fmt.Errorf("%w: invalid host %q", ErrMalformedTarget, raw)
	}

	hostname, port := raw, ""
	if h, p, err := net.SplitHostPort(raw); err == nil {
		hostname, port = h, p
	} else if strings.HasPrefix(raw, "[") {
		hostname = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	}
	if hostname == "" {
		return "", fmt.Errorf("%w: missing host", ErrMalformedTarget)
	}

	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: invalid port %q", ErrMalformedTarget, port)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.To4() == nil {
			hostname = "[" + hostname + "]"
		}
	} else {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			return "", fmt.Errorf("%w: invalid host %q: %v", ErrMalformedTarget, hostname, err)
		}
		hostname = ascii
	}

	if port != "" {
		return hostname + ":" + port, nil
	}
	return hostname, nil
}

// IsRecursive reports whether target points back at the proxy itself,
// given the Host header the proxy was addressed by.
func IsRecursive(target *url.URL, proxyHost string) bool {
	return proxyHost != "" && strings.EqualFold(target.Host, proxyHost)
}
