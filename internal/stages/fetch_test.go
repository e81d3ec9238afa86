package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_HappyPath(t *testing.T) {
	t.Setenv("FETCH_ALLOW_LOOPBACK", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	res, err := Fetch(context.Background(), srv.URL, 5*time.Second, 1<<20)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(res.ContentType, "html") {
		t.Fatalf("expected html content type, got %s", res.ContentType)
	}
	if len(res.Bytes) == 0 {
		t.Fatalf("expected non-empty body")
	}
}

func TestFetch_TooLarge(t *testing.T) {
	t.Setenv("FETCH_ALLOW_LOOPBACK", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, 5*time.Second, 10)
	if err == nil {
		t.Fatalf("expected too_large error")
	}
}

func TestFetch_BlocksLoopbackByDefault(t *testing.T) {
	_, err := Fetch(context.Background(), "https://localhost/secret", 5*time.Second, 1<<20)
	if err == nil {
		t.Fatalf("expected fetch to refuse localhost target")
	}
}

func TestFetch_BlocksPrivateIPLiteral(t *testing.T) {
	_, err := Fetch(context.Background(), "https://10.0.0.5/secret", 5*time.Second, 1<<20)
	if err == nil {
		t.Fatalf("expected fetch to refuse a private IP literal")
	}
}

func TestFetch_Upstream5xx(t *testing.T) {
	t.Setenv("FETCH_ALLOW_LOOPBACK", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, 5*time.Second, 1<<20)
	if err == nil {
		t.Fatalf("expected upstream_5xx error")
	}
}

func TestFetch_Upstream4xx(t *testing.T) {
	t.Setenv("FETCH_ALLOW_LOOPBACK", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, 5*time.Second, 1<<20)
	if err == nil {
		t.Fatalf("expected upstream_4xx error")
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	_, err := Fetch(context.Background(), "   ", 5*time.Second, 1<<20)
	if err == nil {
		t.Fatalf("expected bad_input for empty url")
	}
}
