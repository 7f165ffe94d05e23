package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veritaslabs/aletheia/protocol"
)

func TestRemote_Verify(t *testing.T) {
	var gotMime string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/verify":
			gotMime = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"status":"valid","claims":{"creator":"Ada"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewRemote(RemoteConfig{BaseURL: srv.URL})
	ctx := context.Background()

	if err := e.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	v, err := e.Verify(ctx, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Status != protocol.StatusValid {
		t.Errorf("Status: got %s, want valid", v.Status)
	}
	if v.Claims == nil || v.Claims.Creator != "Ada" {
		t.Errorf("Claims: got %+v", v.Claims)
	}
	if gotMime != "image/jpeg" {
		t.Errorf("Content-Type: got %q", gotMime)
	}
	if len(gotBody) != 3 {
		t.Errorf("body: got %d bytes, want 3", len(gotBody))
	}
}

func TestRemote_InitFailsWhenServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewRemote(RemoteConfig{BaseURL: srv.URL})
	err := e.Init(context.Background())
	if err == nil {
		t.Fatal("Init: want error for unhealthy service")
	}
}

func TestRemote_VerifyErrorStatusPassesThrough(t *testing.T) {
	// The service may itself report an error-status verdict; that is a
	// successful call, and any diagnostic detail is stripped.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","raw_manifest":"diag: decoder blew up"}`))
	}))
	defer srv.Close()

	e := NewRemote(RemoteConfig{BaseURL: srv.URL})
	v, err := e.Verify(context.Background(), []byte("x"), "image/png")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Status != protocol.StatusError {
		t.Errorf("Status: got %s, want error", v.Status)
	}
	if v.RawManifest != "" {
		t.Errorf("RawManifest: got %q, want stripped", v.RawManifest)
	}
}

func TestRemote_VerifyHTTPErrorIsExecutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewRemote(RemoteConfig{BaseURL: srv.URL})
	if _, err := e.Verify(context.Background(), []byte("x"), "image/png"); err == nil {
		t.Fatal("Verify: want error for http 500")
	}
}

func TestNoClaimDetection(t *testing.T) {
	cases := []struct {
		out  string
		want bool
	}{
		{"Error: No claim found", true},
		{"error: no manifest data in asset", true},
		{"JUMBF not found", true},
		{"Error: failed to parse COSE signature", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := noClaim(tc.out); got != tc.want {
			t.Errorf("noClaim(%q): got %v, want %v", tc.out, got, tc.want)
		}
	}
}

func TestExtForMime(t *testing.T) {
	cases := map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"":           ".jpg",
	}
	for mime, want := range cases {
		if got := extForMime(mime); got != want {
			t.Errorf("extForMime(%q): got %q, want %q", mime, got, want)
		}
	}
}
