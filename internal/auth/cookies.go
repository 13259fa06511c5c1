package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Session cookie names.
const (
	CookieAccess  = "ko_access"
	CookieRefresh = "ko_refresh"
	CookieCSRF    = "ko_csrf"

	// RefreshPath scopes the refresh cookie to the only endpoint that reads it.
	RefreshPath = "/api/v1/auth/refresh"

	accessMaxAge  = 900
	refreshMaxAge = 604800
	csrfMaxAge    = 604800
)

// SecurePolicy decides when session cookies carry the Secure attribute.
type SecurePolicy string

const (
	// SecureAuto marks cookies Secure when the request arrived over HTTPS.
	SecureAuto   SecurePolicy = "auto"
	SecureAlways SecurePolicy = "always"
	SecureNever  SecurePolicy = "never"
)

// ParseSecurePolicy parses the textual form of a SecurePolicy.
func ParseSecurePolicy(s string) (SecurePolicy, error) {
	switch p := SecurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SecureAuto, SecureAlways, SecureNever:
		return p, nil
	case "":
		return SecureAuto, nil
	default:
		return "", fmt.Errorf("unknown secure cookie policy %q (want auto, always or never)", s)
	}
}

// CookieManager writes and clears the three session cookies.
type CookieManager struct {
	policy SecurePolicy

	// TrustForwardedProto lets X-Forwarded-Proto decide HTTPS under SecureAuto.
	// Only enable it behind a proxy that overwrites the header.
	trustForwardedProto bool
}

// NewCookieManager returns a CookieManager using the given policy.
func NewCookieManager(policy SecurePolicy, trustForwardedProto bool) *CookieManager {
	if policy == "" {
		policy = SecureAuto
	}
	return &CookieManager{policy: policy, trustForwardedProto: trustForwardedProto}
}

// IssueSessionCookies sets the access, refresh and CSRF cookies. The CSRF value is
// freshly generated on every call and returned.
func (m *CookieManager) IssueSessionCookies(w http.ResponseWriter, r *http.Request, accessToken, refreshToken string) string {
	secure := m.secure(r)
	csrfToken := uuid.NewString()

	http.SetCookie(w, m.cookie(CookieAccess, accessToken, "/", accessMaxAge, true, secure))
	http.SetCookie(w, m.cookie(CookieRefresh, refreshToken, RefreshPath, refreshMaxAge, true, secure))
	http.SetCookie(w, m.cookie(CookieCSRF, csrfToken, "/", csrfMaxAge, false, secure))

	return csrfToken
}

// ClearSessionCookies expires all three session cookies. Attributes match the
// ones set by IssueSessionCookies so browsers drop them.
func (m *CookieManager) ClearSessionCookies(w http.ResponseWriter, r *http.Request) {
	secure := m.secure(r)

	http.SetCookie(w, m.cookie(CookieAccess, "", "/", -1, true, secure))
	http.SetCookie(w, m.cookie(CookieRefresh, "", RefreshPath, -1, true, secure))
	http.SetCookie(w, m.cookie(CookieCSRF, "", "/", -1, false, secure))
}

// cookie builds a session cookie. maxAge < 0 emits Max-Age=0.
func (m *CookieManager) cookie(name, value, path string, maxAge int, httpOnly, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *CookieManager) secure(r *http.Request) bool {
	switch m.policy {
	case SecureAlways:
		return true
	case SecureNever:
		return false
	default:
		return IsHTTPS(r, m.trustForwardedProto)
	}
}

// IsHTTPS reports whether r arrived over HTTPS. X-Forwarded-Proto is honoured
// only when trustForwardedProto is set.
func IsHTTPS(r *http.Request, trustForwardedProto bool) bool {
	if r == nil {
		return false
	}
	if trustForwardedProto {
		switch strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))) {
		case "https":
			return true
		case "http":
			return false
		}
	}
	return r.TLS != nil
}
