package target

import (
	"errors"
	"net/url"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		query    string
		wantURL  string
		wantHost string
	}{
		{
			name:     "http with path",
			path:     "/http/example.com/file.txt",
			wantURL:  "http://example.com/file.txt",
			wantHost: "example.com",
		},
		{
			name:     "https with port and query",
			path:     "/https/example.com:8443/a/b",
			query:    "x=1&y=2",
			wantURL:  "https://example.com:8443/a/b?x=1&y=2",
			wantHost: "example.com:8443",
		},
		{
			name:     "missing path defaults to root",
			path:     "/http/example.com",
			wantURL:  "http://example.com/",
			wantHost: "example.com",
		},
		{
			name:     "trailing slash only",
			path:     "/http/example.com/",
			wantURL:  "http://example.com/",
			wantHost: "example.com",
		},
		{
			name:     "percent-encoding preserved verbatim",
			path:     "/http/example.com/a%2Fb/c%20d",
			query:    "q=a%26b",
			wantURL:  "http://example.com/a%2Fb/c%20d?q=a%26b",
			wantHost: "example.com",
		},
		{
			name:     "encoded unreserved characters not re-decoded",
			path:     "/http/example.com/%41BC",
			wantURL:  "http://example.com/%41BC",
			wantHost: "example.com",
		},
		{
			name:     "ipv4 host",
			path:     "/http/127.0.0.1:8080/x",
			wantURL:  "http://127.0.0.1:8080/x",
			wantHost: "127.0.0.1:8080",
		},
		{
			name:     "ipv6 host",
			path:     "/http/[::1]:8080/x",
			wantURL:  "http://[::1]:8080/x",
			wantHost: "[::1]:8080",
		},
		{
			name:     "host is lowercased",
			path:     "/http/Example.COM/x",
			wantURL:  "http://example.com/x",
			wantHost: "example.com",
		},
		{
			name:     "internationalized host converted to punycode",
			path:     "/https/b%C3%BCcher.example/",
			wantURL:  "https://xn--bcher-kva.example/",
			wantHost: "xn--bcher-kva.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Resolve(tt.path, tt.query)
			if err != nil {
				t.Fatalf("Resolve(%q, %q) error = %v", tt.path, tt.query, err)
			}
			if got := u.String(); got != tt.wantURL {
				t.Errorf("URL = %q, want %q", got, tt.wantURL)
			}
			if u.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", u.Host, tt.wantHost)
			}
		})
	}
}

func TestResolve_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
	}{
		{"ftp scheme", "/ftp/example.com/file.txt", ""},
		{"uppercase scheme", "/HTTP/example.com/file.txt", ""},
		{"no host segment", "/http", ""},
		{"empty host", "/http//file.txt", ""},
		{"empty path", "/", ""},
		{"bad path escape", "/http/example.com/a%zz", ""},
		{"bad host escape", "/http/exa%zzmple.com/", ""},
		{"userinfo in host", "/http/user%40example.com/", ""},
		{"port out of range", "/http/example.com:70000/", ""},
		{"non-numeric port", "/http/example.com:abc/", ""},
		{"whitespace in query", "/http/example.com/", "a=b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.path, tt.query)
			if !errors.Is(err, ErrMalformedTarget) {
				t.Errorf("Resolve(%q, %q) error = %v, want ErrMalformedTarget", tt.path, tt.query, err)
			}
		})
	}
}

func TestIsRecursive(t *testing.T) {
	u, err := url.Parse("http://proxy.example:8080/foo")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		host string
		want bool
	}{
		{"proxy.example:8080", true},
		{"PROXY.example:8080", true},
		{"proxy.example", false},
		{"other.example:8080", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRecursive(u, tt.host); got != tt.want {
			t.Errorf("IsRecursive(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
