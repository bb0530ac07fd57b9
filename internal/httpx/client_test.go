package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

func TestDoJSONRetriesServerErrorWithStableRequestID(t *testing.T) {
	var count int32
	var mu sync.Mutex
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(HeaderRequestID))
		mu.Unlock()
		if atomic.AddInt32(&count, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("expected one request id across retries, got %v", ids)
	}
}

func TestDoJSONSurfacesEngineMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Gas estimation failed: execution reverted"}`))
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), New(time.Second, 0), srv.URL, nil, &map[string]any{})
	if !clierr.HasCode(err, clierr.CodeEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if !clierr.IsGasEstimation(err) || !clierr.ShouldRetryWithNextQuote(err) {
		t.Fatalf("expected gas estimation classification, got %v", err)
	}
}

func TestDoJSONAuthAndRateLimit(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := New(time.Second, 0)
	if err := GetJSON(context.Background(), client, srv.URL, nil, nil); clierr.ExitCode(err) != int(clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	status.Store(http.StatusTooManyRequests)
	if err := GetJSON(context.Background(), client, srv.URL, nil, nil); clierr.ExitCode(err) != int(clierr.CodeRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestDoJSONInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), New(time.Second, 0), srv.URL, nil, &map[string]any{})
	if !clierr.IsInvalidResponse(err) {
		t.Fatalf("expected invalid response error, got %v", err)
	}
}

func TestPostJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := PostJSON(context.Background(), New(time.Second, 0), srv.URL, map[string]string{"a": "b"}, nil, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.ID != "abc" {
		t.Fatalf("unexpected id %q", out.ID)
	}
}
