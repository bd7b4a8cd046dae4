package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	t.Run("allows probe paths without token", func(t *testing.T) {
		t.Setenv("REFETCH_API_TOKEN", "sekrit")
		for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusTeapot)
			})
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()
			Middleware(next).ServeHTTP(rr, req)
			if rr.Code != http.StatusTeapot {
				t.Fatalf("%s: expected status %d got %d", path, http.StatusTeapot, rr.Code)
			}
			if !handled {
				t.Fatalf("%s: next handler not called", path)
			}
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		t.Setenv("REFETCH_API_TOKEN", "sekrit")
		handled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		Middleware(next).ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rr.Code)
		}
		if handled {
			t.Fatalf("next handler should not be called")
		}
		if strings.TrimSpace(rr.Body.String()) != "missing API token" {
			t.Fatalf("unexpected body %q", rr.Body.String())
		}
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		t.Setenv("REFETCH_API_TOKEN", "sekrit")
		handled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rr := httptest.NewRecorder()
		Middleware(next).ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status %d got %d", http.StatusForbidden, rr.Code)
		}
		if handled {
			t.Fatalf("next handler should not be called")
		}
		if strings.TrimSpace(rr.Body.String()) != "invalid API token" {
			t.Fatalf("unexpected body %q", rr.Body.String())
		}
	})

	t.Run("rejects everything when no token configured", func(t *testing.T) {
		t.Setenv("REFETCH_API_TOKEN", "")
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rr := httptest.NewRecorder()
		Middleware(next).ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status %d got %d", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("allows valid token", func(t *testing.T) {
		t.Setenv("REFETCH_API_TOKEN", "sekrit")
		handled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
			w.WriteHeader(http.StatusCreated)
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer sekrit")
		rr := httptest.NewRecorder()
		Middleware(next).ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status %d got %d", http.StatusCreated, rr.Code)
		}
		if !handled {
			t.Fatalf("next handler not called")
		}
	})
}
