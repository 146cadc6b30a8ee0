package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestObtainSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/profile/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer id-token-123" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Accept-Language"); got != "de-DE" {
			t.Errorf("accept-language = %q", got)
		}
		if r.Header.Get("mobile-app-version") == "" {
			t.Error("mobile-app-version header missing")
		}
		w.Header().Set("Authorization", "Bearer ws-bearer-456")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider(srv.Client(), srv.URL, "de_de", testLogger())
	bearer, err := p.Obtain(context.Background(), "id-token-123")
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "Bearer ws-bearer-456" {
		t.Errorf("bearer = %q", bearer)
	}
}

func TestObtainNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(srv.Client(), srv.URL, "", testLogger())
	_, err := p.Obtain(context.Background(), "token")
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if ae.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", ae.Status)
	}
}

func TestObtainMissingAuthorizationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider(srv.Client(), srv.URL, "", testLogger())
	_, err := p.Obtain(context.Background(), "token")
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "es-ES"},
		{"en_US", "en-US"},
		{"en-us", "en-US"},
		{"EN", "en-EN"},
		{"de", "de-DE"},
		{"fr-FR", "fr-FR"},
		{"zh-Hans-CN", "zh-CN"},
		{"spanish", "spanish"},
	}
	for _, tt := range tests {
		if got := NormalizeLocale(tt.in); got != tt.want {
			t.Errorf("NormalizeLocale(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bearer abcdef1234567890wxyz", "Bearer abcdef...wxyz"},
		{"abcdef1234567890wxyz", "Bearer abcdef...wxyz"},
		{"Bearer short", "Bearer short"},
		{"tiny", "tiny"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
