package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/adapter/okx"
	"github.com/caesar-terminal/bridge/internal/rest"
	"github.com/caesar-terminal/bridge/internal/vault"
)

func activeSession(t *testing.T) *vault.SessionManager {
	t.Helper()
	sm := vault.NewSessionManager(10 * time.Minute)
	err := sm.Activate("main", adapter.CredentialSet{
		okx.DefaultAPIKeyName:        "5137e278-1f35-4ddb-8452-76756fd9ff6c",
		okx.DefaultAPISecretName:     "EFFF4539ADCD144C01BC58CDDFDA76B8",
		okx.DefaultAPIPassphraseName: "passphrase",
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return sm
}

// newExchange serves fixed replies and records the last request body.
func newExchange(t *testing.T, status int, reply string) (*httptest.Server, *string) {
	t.Helper()
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(okx.HeaderAccessSign) == "" {
			t.Errorf("request is not signed")
		}
		raw, _ := io.ReadAll(r.Body)
		lastBody = string(raw)
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastBody
}

func newTestExecutor(t *testing.T, srvURL string, gate TradingGate) *Executor {
	t.Helper()
	registry := adapter.NewRegistry(okx.New(okx.DefaultConfig(), nil, nil))
	return NewExecutor(
		registry,
		NewValidator(gate, nil),
		activeSession(t),
		rest.New(srvURL, time.Second, nil),
		nil,
	)
}

func TestExecutor_Accepted(t *testing.T) {
	srv, body := newExchange(t, http.StatusOK,
		`{"code":"0","msg":"","data":[{"ordId":"312269865356374016","clOrdId":"c1","sCode":"0","sMsg":""}]}`)
	ex := newTestExecutor(t, srv.URL, &mockGate{})

	req := validOrder()
	req.CorrelationID = "corr-1"
	order, err := ex.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if order.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", order.Status)
	}
	if *body != `{"instId":"BTC-USDT","tdMode":"cash","side":"buy","ordType":"limit","sz":"0.1","px":"50000"}` {
		t.Fatalf("unexpected body sent: %s", *body)
	}

	msg := order.Event.Messages[0]
	if msg.Type != adapter.MessageType(adapter.OpCreateOrder) {
		t.Fatalf("unexpected message type %s", msg.Type)
	}
	if len(msg.CorrelationIDs) != 1 || msg.CorrelationIDs[0] != "corr-1" {
		t.Fatalf("correlation id not attached: %v", msg.CorrelationIDs)
	}
	if msg.Elements[0][adapter.ElemOrderID] != "312269865356374016" {
		t.Fatalf("unexpected elements %v", msg.Elements)
	}
}

func TestExecutor_GeneratesCorrelationID(t *testing.T) {
	srv, _ := newExchange(t, http.StatusOK, `{"code":"0","data":[]}`)
	ex := newTestExecutor(t, srv.URL, &mockGate{})

	order, err := ex.Execute(context.Background(), validOrder())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if order.CorrelationID == "" {
		t.Fatal("expected generated correlation id")
	}
}

func TestExecutor_ExchangeRejects(t *testing.T) {
	srv, _ := newExchange(t, http.StatusUnauthorized, `{"code":"50113","msg":"Invalid Sign"}`)
	ex := newTestExecutor(t, srv.URL, &mockGate{})

	order, err := ex.Execute(context.Background(), validOrder())
	if !errors.Is(err, ErrExchangeRejected) {
		t.Fatalf("expected ErrExchangeRejected, got %v", err)
	}
	if order.Status != StatusRejected || !order.Terminal() {
		t.Fatalf("expected terminal rejected order, got %s", order.Status)
	}
	if len(order.Event.Messages) == 0 || order.Event.Messages[0].Type != adapter.MsgResponseError {
		t.Fatalf("response event should be attached: %+v", order.Event)
	}
}

func TestExecutor_HaltedBeforeSigning(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()
	ex := newTestExecutor(t, srv.URL, &mockGate{err: adapter.ErrTradingHalted})

	order, err := ex.Execute(context.Background(), validOrder())
	if !errors.Is(err, adapter.ErrTradingHalted) {
		t.Fatalf("expected ErrTradingHalted, got %v", err)
	}
	if order.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", order.Status)
	}
	if calls != 0 {
		t.Fatal("halted order reached the exchange")
	}
}

func TestExecutor_ValidationError(t *testing.T) {
	srv, _ := newExchange(t, http.StatusOK, `{"code":"0","data":[]}`)
	ex := newTestExecutor(t, srv.URL, &mockGate{})

	req := validOrder()
	req.Params[adapter.ParamSide] = "hold"
	if _, err := ex.Execute(context.Background(), req); !errors.Is(err, adapter.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExecutor_UnknownExchange(t *testing.T) {
	ex := newTestExecutor(t, "http://127.0.0.1:1", &mockGate{})
	req := validOrder()
	req.Exchange = "kraken"

	if _, err := ex.Execute(context.Background(), req); !errors.Is(err, adapter.ErrUnknownExchange) {
		t.Fatalf("expected ErrUnknownExchange, got %v", err)
	}
}

func TestExecutor_TransportFailure(t *testing.T) {
	ex := newTestExecutor(t, "http://127.0.0.1:1", &mockGate{})

	order, err := ex.Execute(context.Background(), validOrder())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if order.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", order.Status)
	}
}
