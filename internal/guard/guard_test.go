package guard

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var errReset = errors.New("connection reset")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errReset }

func TestReadRequestBody(t *testing.T) {
	g := New(10, 100)

	tests := []struct {
		name     string
		body     string
		declared int64
		wantErr  error
	}{
		{"empty", "", 0, nil},
		{"under limit", "hello", 5, nil},
		{"exactly at limit", "0123456789", 10, nil},
		{"over limit undeclared", "0123456789a", -1, ErrRequestTooLarge},
		{"declared over limit", "x", 11, ErrRequestTooLarge},
		{"declared under but body larger", "0123456789abc", 3, ErrRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := g.ReadRequestBody(strings.NewReader(tt.body), tt.declared)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.body {
				t.Errorf("body = %q, want %q", data, tt.body)
			}
		})
	}
}

func TestReadRequestBody_DeclaredOverLimitDoesNotRead(t *testing.T) {
	g := New(4, 100)
	r := bytes.NewReader([]byte("abcdefgh"))

	_, err := g.ReadRequestBody(r, 8)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("err = %v, want ErrRequestTooLarge", err)
	}
	if r.Len() != 8 {
		t.Errorf("%d bytes left unread, want 8", r.Len())
	}
}

func TestReadRequestBody_NilBody(t *testing.T) {
	data, err := New(4, 100).ReadRequestBody(nil, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Errorf("data = %q, want nil", data)
	}
}

func TestReadRequestBody_ReadError(t *testing.T) {
	_, err := New(4, 100).ReadRequestBody(failingReader{}, -1)
	if !errors.Is(err, ErrRequestBodyUnreadable) {
		t.Fatalf("err = %v, want ErrRequestBodyUnreadable", err)
	}
	if !errors.Is(err, errReset) {
		t.Errorf("err = %v, want the reader's error wrapped", err)
	}
	if errors.Is(err, ErrRequestTooLarge) {
		t.Error("read failure reported as ErrRequestTooLarge")
	}
}

func TestCheckResponse(t *testing.T) {
	g := New(10, 100)

	if err := g.CheckResponse(0); err != nil {
		t.Errorf("CheckResponse(0) = %v", err)
	}
	if err := g.CheckResponse(100); err != nil {
		t.Errorf("CheckResponse(100) = %v", err)
	}
	if err := g.CheckResponse(101); !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("CheckResponse(101) = %v, want ErrResponseTooLarge", err)
	}
}
