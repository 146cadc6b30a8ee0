// Package auth exchanges the long-lived identity token for the short-lived
// bearer the Companion streaming service expects.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Metadata the Companion service expects from the mobile app.
const (
	AppVersion     = "3.12.1"
	AppBuild       = "40408"
	AppOS          = "android"
	AppOSVersion   = "11"
	AppUserAgent   = "okhttp/5.1.0"
	AcceptEncoding = "gzip"
)

const (
	loginPath     = "/api/v1/profile/login"
	defaultLocale = "es-ES"
)

// AuthError reports a failed credential exchange. The connection manager
// retries the whole connect cycle; nothing here is fatal to the process.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("companion login: %s (status %d)", e.Reason, e.Status)
	}
	return "companion login: " + e.Reason
}

// Provider obtains streaming bearers. It is stateless; the caller caches the
// bearer and invalidates it on unauthorized failures.
type Provider struct {
	hc       *http.Client
	host     string
	language string
	logger   *slog.Logger
}

// NewProvider creates a provider for the given Companion host. The locale is
// normalized to ll-CC form, defaulting to es-ES.
func NewProvider(hc *http.Client, host, locale string, logger *slog.Logger) *Provider {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Provider{
		hc:       hc,
		host:     strings.TrimRight(host, "/"),
		language: NormalizeLocale(locale),
		logger:   logger.With("component", "auth"),
	}
}

// Language returns the normalized accept-language value the provider uses.
func (p *Provider) Language() string { return p.language }

// Obtain logs into the profile endpoint and returns the Authorization header
// value to present on the websocket (possibly prefixed "Bearer ").
func (p *Provider) Obtain(ctx context.Context, idToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+loginPath, nil)
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header = AppHeaders(p.language)
	req.Header.Set("Authorization", "Bearer "+idToken)

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("companion login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode, Reason: "unexpected status"}
	}

	authorization := resp.Header.Get("Authorization")
	if authorization == "" {
		return "", &AuthError{Status: resp.StatusCode, Reason: "response missing Authorization header"}
	}

	p.logger.Debug("streaming bearer obtained", "authorization", MaskToken(authorization))
	return authorization, nil
}

// AppHeaders returns the mobile-app metadata header set sent on both the
// login request and the websocket upgrade.
func AppHeaders(language string) http.Header {
	h := make(http.Header)
	h.Set("Accept-Language", language)
	h.Set("mobile-app-version", AppVersion)
	h.Set("mobile-app-build", AppBuild)
	h.Set("mobile-app-os", AppOS)
	h.Set("mobile-app-os-version", AppOSVersion)
	h.Set("Accept-Encoding", AcceptEncoding)
	h.Set("User-Agent", AppUserAgent)
	return h
}

// NormalizeLocale canonicalizes a locale in arbitrary casing or separator
// (en_US, EN, en-us) into ll-CC form, defaulting to es-ES when absent.
func NormalizeLocale(locale string) string {
	if locale == "" {
		return defaultLocale
	}
	locale = strings.ReplaceAll(locale, "_", "-")
	if strings.Contains(locale, "-") {
		parts := strings.Split(locale, "-")
		return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[len(parts)-1])
	}
	if len(locale) == 2 {
		return strings.ToLower(locale) + "-" + strings.ToUpper(locale)
	}
	return locale
}

// MaskToken partially hides a bearer for logging.
func MaskToken(value string) string {
	token := strings.TrimPrefix(value, "Bearer ")
	if len(token) <= 12 {
		return value
	}
	return "Bearer " + token[:6] + "..." + token[len(token)-4:]
}
