package netguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want error
	}{
		{"https ok", "https://example.com/a.jpg", nil},
		{"http ok", "http://example.com/a.jpg", nil},
		{"file scheme", "file:///etc/passwd", ErrUnsafeScheme},
		{"data scheme", "data:image/png;base64,AAAA", ErrUnsafeScheme},
		{"loopback literal", "http://127.0.0.1/x.jpg", ErrSSRF},
		{"private literal", "http://10.1.2.3/x.jpg", ErrSSRF},
		{"link local", "http://169.254.169.254/latest/meta-data", ErrSSRF},
		{"ipv6 loopback", "http://[::1]/x.jpg", ErrSSRF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("ValidateURL(%q): %v", tc.url, err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidateURL(%q): got %v, want %v", tc.url, err, tc.want)
			}
		})
	}
}

func TestValidateURL_NoHost(t *testing.T) {
	if err := ValidateURL("https:///path-only"); err == nil {
		t.Fatal("want error for hostless URL")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("abcdef"), 10)
	if err != nil {
		t.Fatalf("under limit: %v", err)
	}
	if string(data) != "abcdef" {
		t.Errorf("got %q", data)
	}

	if _, err := LimitedReadAll(strings.NewReader("abcdef"), 5); err == nil {
		t.Fatal("want error when body exceeds limit")
	}

	// Exactly at the limit passes.
	if _, err := LimitedReadAll(strings.NewReader("abcde"), 5); err != nil {
		t.Fatalf("at limit: %v", err)
	}
}
