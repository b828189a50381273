package rangepolicy

import (
	"errors"
	"math"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"laeproxy-go/internal/model"
)

func decide(t *testing.T, p *Policy, method, header string) Decision {
	t.Helper()
	d, err := p.Decide(method, header)
	if err != nil {
		t.Fatalf("Decide(%s, %q) error = %v", method, header, err)
	}
	return d
}

func TestParse(t *testing.T) {
	tests := []struct {
		header string
		want   *model.ByteRange
	}{
		{"", nil},
		{"   ", nil},
		{"bytes=0-99", &model.ByteRange{Start: 0, End: 99}},
		{"bytes=100-", &model.ByteRange{Start: 100, End: -1}},
		{"bytes=5-5", &model.ByteRange{Start: 5, End: 5}},
		{"Bytes=1-2", &model.ByteRange{Start: 1, End: 2}},
		{"bytes= 10 - 20 ", &model.ByteRange{Start: 10, End: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := Parse(tt.header)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.header, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.header, diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"bytes=10-5",
		"bytes=-500",
		"bytes=0-1,5-6",
		"items=0-10",
		"bytes=",
		"bytes=abc-def",
		"bytes=1",
		"bytes=-1-5",
		"bytes=+1-5",
		"bytes=0-99999999999999999999",
		"0-99",
	}

	for _, header := range tests {
		t.Run(header, func(t *testing.T) {
			got, err := Parse(header)
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("err = %v, want ErrInvalidRange", err)
			}
			if got != nil {
				t.Errorf("range = %+v, want nil", got)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		want      model.EffectiveRange
		wantClamp bool
	}{
		{"no range header", "", model.EffectiveRange{Start: 0, End: 999}, false},
		{"within chunk", "bytes=200-699", model.EffectiveRange{Start: 200, End: 699}, false},
		{"exactly one chunk", "bytes=1000-1999", model.EffectiveRange{Start: 1000, End: 1999}, false},
		{"wider than chunk", "bytes=500-5000", model.EffectiveRange{Start: 500, End: 1499}, true},
		{"open ended", "bytes=4096-", model.EffectiveRange{Start: 4096, End: 5095}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(t, New(1000), http.MethodGet, tt.header)

			if !d.Applies || !d.MustReframe {
				t.Errorf("Applies = %v, MustReframe = %v, want both true", d.Applies, d.MustReframe)
			}
			if d.Range != tt.want {
				t.Errorf("Range = %+v, want %+v", d.Range, tt.want)
			}
			if d.Clamped != tt.wantClamp {
				t.Errorf("Clamped = %v, want %v", d.Clamped, tt.wantClamp)
			}
			if tt.header == "" && d.Requested != nil {
				t.Errorf("Requested = %+v, want nil", d.Requested)
			}
		})
	}
}

func TestDecide_OpenEndedNearMaxInt(t *testing.T) {
	d := decide(t, New(1000), http.MethodGet, "bytes=9223372036854775000-")

	if d.Range.End != math.MaxInt64 {
		t.Errorf("End = %d, want MaxInt64", d.Range.End)
	}
	if n := d.Range.Len(); n > 1000 {
		t.Errorf("Len = %d, want <= 1000", n)
	}
}

func TestDecide_InvalidRange(t *testing.T) {
	_, err := New(1000).Decide(http.MethodGet, "bytes=10-5")
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("err = %v, want ErrInvalidRange", err)
	}
}

func TestDecide_NonGETIgnoresRange(t *testing.T) {
	p := New(1000)

	for _, method := range []string{http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			d := decide(t, p, method, "bytes=10-5")
			if d.Applies || d.MustReframe {
				t.Errorf("Applies = %v, MustReframe = %v, want both false", d.Applies, d.MustReframe)
			}
		})
	}
}

func TestDecide_WidthNeverExceedsChunk(t *testing.T) {
	const chunk = 64
	p := New(chunk)

	for start := int64(0); start < 200; start += 7 {
		for end := start; end < start+300; end += 13 {
			header := model.EffectiveRange{Start: start, End: end}.Header()
			d := decide(t, p, http.MethodGet, header)

			if d.Range.Start != start {
				t.Errorf("%s: Start = %d, want %d", header, d.Range.Start, start)
			}
			want := min(end, start+chunk-1)
			if d.Range.End != want {
				t.Errorf("%s: End = %d, want %d", header, d.Range.End, want)
			}
		}
	}
}
