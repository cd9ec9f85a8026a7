package okx

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

func newTestAdapter() *Adapter {
	return New(DefaultConfig(), nil, nil)
}

func createOrderRequest(params map[string]string) adapter.OperationRequest {
	return adapter.OperationRequest{
		Operation: adapter.OpCreateOrder,
		Exchange:  adapter.ExchangeOKX,
		SymbolID:  "BTC-USDT",
		Params:    params,
	}
}

func TestTranslateRequest_CreateLimitOrder(t *testing.T) {
	a := newTestAdapter()
	req := createOrderRequest(map[string]string{
		adapter.ParamSide:          "buy",
		adapter.ParamOrderType:     "limit",
		adapter.ParamQuantity:      "0.1",
		adapter.ParamPrice:         "50000",
		adapter.ParamClientOrderID: "test_order_123",
	})

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}

	if wire.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", wire.Method)
	}
	if wire.Target != "/api/v5/trade/order" {
		t.Errorf("unexpected target %s", wire.Target)
	}
	want := `{"instId":"BTC-USDT","tdMode":"cash","side":"buy","ordType":"limit","sz":"0.1","clOrdId":"test_order_123","px":"50000"}`
	if wire.Body != want {
		t.Fatalf("body mismatch:\nwant %s\ngot  %s", want, wire.Body)
	}

	for _, h := range []string{HeaderAccessKey, HeaderAccessSign, HeaderAccessTimestamp, HeaderAccessPassphrase} {
		if wire.Header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if wire.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", wire.Header.Get("Content-Type"))
	}
	if wire.Header.Get(HeaderAccessTimestamp) != "1234567890000" {
		t.Errorf("unexpected timestamp %q", wire.Header.Get(HeaderAccessTimestamp))
	}
}

func TestTranslateRequest_SignatureRecomputes(t *testing.T) {
	a := newTestAdapter()
	creds := testCredentials()
	req := createOrderRequest(map[string]string{
		adapter.ParamSide:      "sell",
		adapter.ParamOrderType: "limit",
		adapter.ParamQuantity:  "2",
		adapter.ParamPrice:     "31000.5",
	})

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, creds)
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}

	pre := PreSignature(wire.Header.Get(HeaderAccessTimestamp), wire.Method, wire.Target, wire.Body)
	if got := computeHmacSha256(creds[DefaultAPISecretName], pre); got != wire.Header.Get(HeaderAccessSign) {
		t.Fatalf("signature does not verify: want %s, got %s", got, wire.Header.Get(HeaderAccessSign))
	}
}

func TestTranslateRequest_MarketOrderOmitsOptionalMembers(t *testing.T) {
	a := newTestAdapter()
	req := createOrderRequest(map[string]string{
		adapter.ParamSide:      "sell",
		adapter.ParamOrderType: "market",
		adapter.ParamQuantity:  "1",
	})

	wire, err := a.TranslateRequest(req, "ETH-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	want := `{"instId":"ETH-USDT","tdMode":"cash","side":"sell","ordType":"market","sz":"1"}`
	if wire.Body != want {
		t.Fatalf("body mismatch:\nwant %s\ngot  %s", want, wire.Body)
	}
}

func TestTranslateRequest_CreateOrderValidation(t *testing.T) {
	a := newTestAdapter()

	tests := []struct {
		name    string
		params  map[string]string
		wantMsg string
	}{
		{"missing side", map[string]string{adapter.ParamOrderType: "market", adapter.ParamQuantity: "1"}, "missing SIDE"},
		{"missing order type", map[string]string{adapter.ParamSide: "buy", adapter.ParamQuantity: "1"}, "missing ORDER_TYPE"},
		{"missing quantity", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market"}, "missing QUANTITY"},
		{"zero quantity", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "0"}, "invalid quantity"},
		{"negative quantity", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "-1"}, "invalid quantity"},
		{"non-numeric quantity", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "abc"}, "invalid quantity"},
		{"limit without price", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "limit", adapter.ParamQuantity: "1"}, "missing PRICE"},
		{"zero price", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "limit", adapter.ParamQuantity: "1", adapter.ParamPrice: "0"}, "invalid price"},
		{"negative price", map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "limit", adapter.ParamQuantity: "1", adapter.ParamPrice: "-5"}, "invalid price"},
		{"bad side", map[string]string{adapter.ParamSide: "hold", adapter.ParamOrderType: "market", adapter.ParamQuantity: "1"}, "invalid side"},
		// Quantity is checked before side.
		{"bad side and zero quantity", map[string]string{adapter.ParamSide: "hold", adapter.ParamOrderType: "market", adapter.ParamQuantity: "0"}, "invalid quantity"},
		// Price is checked before side.
		{"bad side and zero price", map[string]string{adapter.ParamSide: "hold", adapter.ParamOrderType: "limit", adapter.ParamQuantity: "1", adapter.ParamPrice: "0"}, "invalid price"},
		// Presence of all three keys is checked before any value.
		{"missing side and zero quantity", map[string]string{adapter.ParamOrderType: "market", adapter.ParamQuantity: "0"}, "missing SIDE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := a.TranslateRequest(createOrderRequest(tt.params), "BTC-USDT", fixedNow, testCredentials())
			if !errors.Is(err, adapter.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.HasSuffix(err.Error(), ": "+tt.wantMsg) {
				t.Fatalf("expected reason %q, got %q", tt.wantMsg, err.Error())
			}
			if wire != nil {
				t.Fatalf("expected nil request on error, got %+v", wire)
			}
		})
	}
}

func TestTranslateRequest_NonLimitPriceForwarded(t *testing.T) {
	a := newTestAdapter()
	req := createOrderRequest(map[string]string{
		adapter.ParamSide:      "sell",
		adapter.ParamOrderType: "market",
		adapter.ParamQuantity:  "2",
		adapter.ParamPrice:     "0",
	})

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	want := `{"instId":"BTC-USDT","tdMode":"cash","side":"sell","ordType":"market","sz":"2","px":"0"}`
	if wire.Body != want {
		t.Fatalf("body mismatch\nwant %s\ngot  %s", want, wire.Body)
	}
}

func TestTranslateRequest_ValidationBeforeSigning(t *testing.T) {
	a := newTestAdapter()
	req := createOrderRequest(map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "0"})

	// No credentials: validation must still be the reported failure.
	_, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, adapter.CredentialSet{})
	if !errors.Is(err, adapter.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTranslateRequest_MissingCredentials(t *testing.T) {
	a := newTestAdapter()
	req := createOrderRequest(map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "1"})

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, adapter.CredentialSet{})
	if !errors.Is(err, adapter.ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
	if wire != nil {
		t.Fatal("expected nil request on signing failure")
	}
}

func TestTranslateRequest_CancelOpenOrders(t *testing.T) {
	a := newTestAdapter()
	req := adapter.OperationRequest{
		Operation: adapter.OpCancelOpenOrders,
		Params:    map[string]string{adapter.ParamClOrdIDs: "order1,order2,order3"},
	}

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Target != "/api/v5/trade/cancel-batch-orders" {
		t.Errorf("unexpected target %s", wire.Target)
	}
	want := `{"orders":[{"clOrdId":"order1","instId":"BTC-USDT"},{"clOrdId":"order2","instId":"BTC-USDT"},{"clOrdId":"order3","instId":"BTC-USDT"}]}`
	if wire.Body != want {
		t.Fatalf("body mismatch:\nwant %s\ngot  %s", want, wire.Body)
	}
}

func TestTranslateRequest_CancelOpenOrdersInvalidList(t *testing.T) {
	a := newTestAdapter()

	for _, ids := range []string{"", "a,,b", "a,", ",a"} {
		req := adapter.OperationRequest{
			Operation: adapter.OpCancelOpenOrders,
			Params:    map[string]string{adapter.ParamClOrdIDs: ids},
		}
		wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
		if !errors.Is(err, adapter.ErrValidation) {
			t.Errorf("clOrdIds %q: expected ErrValidation, got %v", ids, err)
		}
		if wire != nil {
			t.Errorf("clOrdIds %q: expected nil request", ids)
		}
	}

	// Parameter absent altogether.
	req := adapter.OperationRequest{Operation: adapter.OpCancelOpenOrders}
	if _, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials()); !errors.Is(err, adapter.ErrValidation) {
		t.Fatalf("expected ErrValidation without clOrdIds, got %v", err)
	}
}

func TestTranslateRequest_CancelOrder(t *testing.T) {
	a := newTestAdapter()
	req := adapter.OperationRequest{
		Operation: adapter.OpCancelOrder,
		Params:    map[string]string{adapter.ParamOrderID: "12345"},
	}

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Target != "/api/v5/trade/cancel-order" {
		t.Errorf("unexpected target %s", wire.Target)
	}
	if want := `{"instId":"BTC-USDT","ordId":"12345"}`; wire.Body != want {
		t.Fatalf("body mismatch:\nwant %s\ngot  %s", want, wire.Body)
	}

	req.Params = map[string]string{}
	if _, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials()); !errors.Is(err, adapter.ErrValidation) {
		t.Fatalf("expected ErrValidation without ids, got %v", err)
	}
}

func TestTranslateRequest_GetOpenOrders(t *testing.T) {
	a := newTestAdapter()
	creds := testCredentials()
	req := adapter.OperationRequest{Operation: adapter.OpGetOpenOrders}

	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, creds)
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", wire.Method)
	}
	if want := "/api/v5/trade/orders-pending?instId=BTC-USDT&instType=SPOT"; wire.Target != want {
		t.Errorf("unexpected target %s", wire.Target)
	}
	if wire.Body != "" {
		t.Errorf("expected empty body, got %q", wire.Body)
	}

	pre := PreSignature("1234567890000", http.MethodGet, wire.Target, "")
	if computeHmacSha256(creds[DefaultAPISecretName], pre) != wire.Header.Get(HeaderAccessSign) {
		t.Fatal("GET signature must cover the query string")
	}
}

type recordingBase struct {
	called adapter.Operation
}

func (b *recordingBase) TranslateDefault(req adapter.OperationRequest, symbolID string, _ time.Time, _ adapter.CredentialSet) (*adapter.WireRequest, error) {
	b.called = req.Operation
	return &adapter.WireRequest{Method: http.MethodGet, Target: "/fallback/" + symbolID}, nil
}

func TestTranslateRequest_FallsBackToBase(t *testing.T) {
	base := &recordingBase{}
	a := New(DefaultConfig(), base, nil)

	wire, err := a.TranslateRequest(adapter.OperationRequest{Operation: "GET_ACCOUNT_BALANCES"}, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if base.called != "GET_ACCOUNT_BALANCES" {
		t.Fatalf("base translator not invoked, got %q", base.called)
	}
	if wire.Target != "/fallback/BTC-USDT" {
		t.Fatalf("unexpected fallback request %+v", wire)
	}
}

func TestTranslateRequest_DefaultBaseIsUnsupported(t *testing.T) {
	a := newTestAdapter()

	_, err := a.TranslateRequest(adapter.OperationRequest{Operation: "GET_ACCOUNT_BALANCES"}, "BTC-USDT", fixedNow, testCredentials())
	if !errors.Is(err, adapter.ErrUnsupportedOperation) {
		t.Fatalf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func TestTranslateRequest_CustomTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CreateOrderTarget = "/custom/order"
	a := New(cfg, nil, nil)

	req := createOrderRequest(map[string]string{adapter.ParamSide: "buy", adapter.ParamOrderType: "market", adapter.ParamQuantity: "1"})
	wire, err := a.TranslateRequest(req, "BTC-USDT", fixedNow, testCredentials())
	if err != nil {
		t.Fatalf("TranslateRequest: %v", err)
	}
	if wire.Target != "/custom/order" {
		t.Fatalf("expected configured target, got %s", wire.Target)
	}
}
