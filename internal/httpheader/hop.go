// Package httpheader holds header hygiene shared by the inbound middleware
// and the upstream response path.
package httpheader

import (
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopByHop are headers that apply to a single connection and must not be
// forwarded by proxies.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHop deletes hop-by-hop headers from h, including any header
// named as a token in the Connection header.
func RemoveHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = textproto.TrimString(tok)
			if httpguts.ValidHeaderFieldName(tok) {
				h.Del(tok)
			}
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}
