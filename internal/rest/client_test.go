package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

func TestClient_DoSendsWireRequestVerbatim(t *testing.T) {
	const body = `{"instId":"BTC-USDT","tdMode":"cash","side":"buy","ordType":"limit","sz":"0.1","px":"50000"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v5/trade/order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("OK-ACCESS-SIGN"); got != "sig" {
			t.Errorf("signature header: %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if string(raw) != body {
			t.Errorf("body rewritten:\nwant %s\ngot  %s", body, raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"1"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	wire := &adapter.WireRequest{
		Method: http.MethodPost,
		Target: "/api/v5/trade/order",
		Body:   body,
		Header: http.Header{
			"OK-ACCESS-SIGN": {"sig"},
			"Content-Type":   {"application/json"},
		},
	}

	resp, err := c.Do(context.Background(), wire)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
	if string(resp.Body) != `{"code":"0","msg":"","data":[{"ordId":"1"}]}` {
		t.Fatalf("unexpected body %s", resp.Body)
	}
	if resp.ReceivedAt.IsZero() {
		t.Fatal("ReceivedAt not set")
	}
}

func TestClient_DoKeepsSignedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.RawQuery != "instId=BTC-USDT&instType=SPOT" {
			t.Errorf("query changed: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":"0","data":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	_, err := c.Do(context.Background(), &adapter.WireRequest{
		Method: http.MethodGet,
		Target: "/api/v5/trade/orders-pending?instId=BTC-USDT&instType=SPOT",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestClient_DoReturnsErrorStatusBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"50113","msg":"Invalid Sign"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	resp, err := c.Do(context.Background(), &adapter.WireRequest{Method: http.MethodPost, Target: "/api/v5/trade/order", Body: "{}"})
	if err != nil {
		t.Fatalf("non-2xx must not be a transport error: %v", err)
	}
	if resp.Status != http.StatusUnauthorized || string(resp.Body) != `{"code":"50113","msg":"Invalid Sign"}` {
		t.Fatalf("unexpected response %d %s", resp.Status, resp.Body)
	}
}

func TestClient_DoTransportError(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond, nil)
	if _, err := c.Do(context.Background(), &adapter.WireRequest{Method: http.MethodGet, Target: "/x"}); err == nil {
		t.Fatal("expected transport error")
	}
}
