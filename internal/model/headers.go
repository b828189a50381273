package model

// Version is the build version, injected so components can stamp it.
type Version string

// Diagnostic headers added by the proxy.
const (
	HeaderResult               = "X-Laeproxy-Result"
	HeaderUpstreamStatusCode   = "X-Laeproxy-Upstream-Status-Code"
	HeaderUpstreamServer       = "X-Laeproxy-Upstream-Server"
	HeaderUpstreamContentRange = "X-Laeproxy-Upstream-Content-Range"
	HeaderVersion              = "X-Laeproxy-Version"
)
