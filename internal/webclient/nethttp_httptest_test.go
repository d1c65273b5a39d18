package webclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raysh454/scanflow/internal/testutil"
	"github.com/raysh454/scanflow/internal/webclient"
)

// ─── Do: real HTTP round-trip via httptest ──────────────────────────────

func TestNetHTTPClient_Do_GET_ReturnsBody(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"status":"running"}`)
	}))
	defer ts.Close()

	client, err := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, ts.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	defer client.Close()

	resp, err := client.Do(context.Background(), &webclient.Request{
		Method: "GET",
		URL:    ts.URL + "/tasks/abc/status",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if !resp.OK() {
		t.Errorf("expected 2xx, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"status":"running"}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if resp.Headers.Get("Content-Type") != "application/json" {
		t.Errorf("expected content type header, got %q", resp.Headers.Get("Content-Type"))
	}
}

func TestNetHTTPClient_Do_POST_SendsBodyAndHeaders(t *testing.T) {
	t.Parallel()
	var gotBody, gotMethod, gotAuth, gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client, err := webclient.NewNetHTTPClient(webclient.Config{UserAgent: "scanflow-test"}, &testutil.DummyLogger{}, ts.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	defer client.Close()

	hdrs := http.Header{}
	hdrs.Set("Authorization", "Bearer tok")
	resp, err := client.Do(context.Background(), &webclient.Request{
		Method:  "post",
		URL:     ts.URL + "/tasks",
		Headers: hdrs,
		Body:    []byte(`{"url":"https://example.com"}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if gotMethod != "POST" {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotBody != `{"url":"https://example.com"}` {
		t.Errorf("unexpected body %q", gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected Authorization forwarded, got %q", gotAuth)
	}
	if gotUA != "scanflow-test" {
		t.Errorf("expected user agent, got %q", gotUA)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
}

func TestNetHTTPClient_Do_ErrorStatusIsNotAnError(t *testing.T) {
	t.Parallel()
	codes := []int{401, 402, 403, 409, 429, 500}

	for _, code := range codes {
		code := code
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			defer ts.Close()

			client, err := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, ts.Client())
			if err != nil {
				t.Fatalf("NewNetHTTPClient: %v", err)
			}
			defer client.Close()

			resp, err := client.Do(context.Background(), &webclient.Request{Method: "GET", URL: ts.URL})
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if resp.StatusCode != code {
				t.Errorf("expected %d, got %d", code, resp.StatusCode)
			}
			if resp.OK() {
				t.Errorf("status %d must not be OK", code)
			}
		})
	}
}

func TestNetHTTPClient_Do_NilRequest_ReturnsError(t *testing.T) {
	t.Parallel()
	client, _ := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, nil)
	defer client.Close()

	_, err := client.Do(context.Background(), nil)
	if !errors.Is(err, webclient.ErrNilRequest) {
		t.Fatalf("expected ErrNilRequest, got %v", err)
	}
}

func TestNetHTTPClient_Do_ConnectionRefused_ReturnsError(t *testing.T) {
	t.Parallel()
	client, _ := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, &http.Client{Timeout: 1 * time.Second})
	defer client.Close()

	_, err := client.Do(context.Background(), &webclient.Request{
		Method: "GET",
		URL:    "http://127.0.0.1:1", // port 1 is unlikely to be open
	})
	if err == nil {
		t.Fatal("expected error for connection refused")
	}
}

func TestNetHTTPClient_Do_ContextCanceled_ReturnsError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	client, _ := webclient.NewNetHTTPClient(webclient.Config{}, &testutil.DummyLogger{}, ts.Client())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, &webclient.Request{Method: "GET", URL: ts.URL})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

// ─── Factory ───────────────────────────────────────────────────────────

func TestNewWebClient_DefaultBackend(t *testing.T) {
	t.Parallel()
	client, err := webclient.NewWebClient(webclient.Config{}, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewWebClient: %v", err)
	}
	if client == nil {
		t.Fatal("client is nil")
	}
	defer client.Close()
}

func TestNewWebClient_UnknownBackend(t *testing.T) {
	t.Parallel()
	client, err := webclient.NewWebClient(webclient.Config{Client: "carrier-pigeon"}, &testutil.DummyLogger{})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if client != nil {
		t.Fatal("expected nil client for unknown backend")
	}
}

func TestListBackends_ContainsNetHTTP(t *testing.T) {
	t.Parallel()
	found := false
	for _, b := range webclient.ListBackends() {
		if b == "nethttp" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected nethttp in %v", webclient.ListBackends())
	}
}
