package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kookbook/kookbook/internal/apierr"
)

func newGateHandler(t *testing.T, cfg CSRFGateConfig) (http.Handler, *bool) {
	t.Helper()
	reached := false
	h := CSRFGate(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &reached
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	return body.Error.Code
}

func TestCSRFGate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		cookie     string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"safe method passes", http.MethodGet, "/api/v1/recipes", "", "", http.StatusNoContent, ""},
		{"matching tokens", http.MethodPost, "/api/v1/recipes", "tok", "tok", http.StatusNoContent, ""},
		{"missing both", http.MethodPost, "/api/v1/recipes", "", "", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
		{"missing header", http.MethodDelete, "/api/v1/recipes/r1", "tok", "", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
		{"missing cookie", http.MethodPatch, "/api/v1/users/u1", "", "tok", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
		{"mismatch", http.MethodPut, "/api/v1/recipes/r1", "tok", "other", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
		{"logout is protected", http.MethodPost, "/api/v1/auth/logout", "", "", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
		{"login exempt", http.MethodPost, "/api/v1/auth/login", "", "", http.StatusNoContent, ""},
		{"login exempt with bad header", http.MethodPost, "/api/v1/auth/login", "tok", "other", http.StatusNoContent, ""},
		{"signup exempt", http.MethodPost, "/api/v1/auth/signup", "", "", http.StatusNoContent, ""},
		{"refresh exempt", http.MethodPost, "/api/v1/auth/refresh", "", "", http.StatusNoContent, ""},
		{"guest session exempt", http.MethodPost, "/api/v1/auth/guest-session", "", "", http.StatusNoContent, ""},
		{"view exempt", http.MethodPost, "/api/v1/recipes/recipe-1/view", "", "", http.StatusNoContent, ""},
		{"nested view path not exempt", http.MethodPost, "/api/v1/recipes/a/b/view", "", "", http.StatusForbidden, "CSRF_TOKEN_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, reached := newGateHandler(t, CSRFGateConfig{})

			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set(CSRFHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				require.False(t, *reached, "rejected request must not reach the handler")
				require.Equal(t, tt.wantCode, errorCode(t, w))
			} else {
				require.True(t, *reached)
			}
		})
	}
}

func TestCSRFGateBodyLimit(t *testing.T) {
	var rejected []apierr.Kind
	cfg := CSRFGateConfig{
		MaxBodyBytes: 16,
		OnReject: func(r *http.Request, err *apierr.Error) {
			rejected = append(rejected, err.Kind)
		},
	}

	t.Run("declared length over limit", func(t *testing.T) {
		h, reached := newGateHandler(t, cfg)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(strings.Repeat("x", 17)))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, w))
		require.False(t, *reached)
	})

	t.Run("undeclared length is capped while reading", func(t *testing.T) {
		h := CSRFGate(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var v map[string]string
			WriteError(w, r, DecodeJSON(r, &v))
		}))
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"aaaaaaaaaaaaaaaaaaaaa"}`))
		r.ContentLength = -1
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("get is not limited", func(t *testing.T) {
		h, reached := newGateHandler(t, cfg)
		r := httptest.NewRequest(http.MethodGet, "/api/v1/recipes", strings.NewReader(strings.Repeat("x", 64)))
		h.ServeHTTP(httptest.NewRecorder(), r)
		require.True(t, *reached)
	})

	t.Run("path override raises the limit", func(t *testing.T) {
		override := cfg
		override.PathLimits = map[string]int64{"/api/v1/auth/login": 64}

		h, reached := newGateHandler(t, override)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(strings.Repeat("x", 32)))
		h.ServeHTTP(httptest.NewRecorder(), r)
		require.True(t, *reached)

		h, reached = newGateHandler(t, override)
		r = httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(strings.Repeat("x", 32)))
		h.ServeHTTP(httptest.NewRecorder(), r)
		require.False(t, *reached)
	})

	require.Equal(t, []apierr.Kind{apierr.KindPayloadTooLarge, apierr.KindPayloadTooLarge}, rejected)
}

func TestIsCSRFExempt(t *testing.T) {
	require.True(t, IsCSRFExempt("/api/v1/auth/login"))
	require.True(t, IsCSRFExempt("/api/v1/recipes/abc/view"))
	require.False(t, IsCSRFExempt("/api/v1/auth/logout-all"))
	require.False(t, IsCSRFExempt("/api/v1/recipes/abc/like"))
	require.False(t, IsCSRFExempt("/api/v1/auth/login/"))
}
