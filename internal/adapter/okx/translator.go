package okx

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

const tradeModeCash = "cash"

// createOrderBody lists members in the order the exchange signs and the
// conformance fixtures compare. Pointer fields are emitted only when the
// parameter was supplied.
type createOrderBody struct {
	InstID  string  `json:"instId"`
	TdMode  string  `json:"tdMode"`
	Side    string  `json:"side"`
	OrdType string  `json:"ordType"`
	Sz      string  `json:"sz"`
	ClOrdID *string `json:"clOrdId,omitempty"`
	Px      *string `json:"px,omitempty"`
}

type cancelOrderBody struct {
	InstID  string  `json:"instId"`
	OrdID   *string `json:"ordId,omitempty"`
	ClOrdID *string `json:"clOrdId,omitempty"`
}

type cancelBatchEntry struct {
	ClOrdID string `json:"clOrdId"`
	InstID  string `json:"instId"`
}

type cancelBatchBody struct {
	Orders []cancelBatchEntry `json:"orders"`
}

// TranslateRequest converts a generic operation into a signed OKX REST
// request. Validation always completes before any body is built; on error
// the returned request is nil. Operations without an OKX-specific form are
// forwarded to the base translator.
func (a *Adapter) TranslateRequest(req adapter.OperationRequest, symbolID string, now time.Time, creds adapter.CredentialSet) (*adapter.WireRequest, error) {
	var (
		method = http.MethodPost
		target string
		body   string
		err    error
	)

	switch req.Operation {
	case adapter.OpCreateOrder:
		target = a.cfg.CreateOrderTarget
		body, err = buildCreateOrder(req, symbolID)
	case adapter.OpCancelOrder:
		target = a.cfg.CancelOrderTarget
		body, err = buildCancelOrder(req, symbolID)
	case adapter.OpCancelOpenOrders:
		target = a.cfg.CancelBatchOrdersTarget
		body, err = buildCancelBatch(req, symbolID)
	case adapter.OpGetOpenOrders:
		method = http.MethodGet
		target = a.openOrdersTarget(symbolID)
	default:
		return a.base.TranslateDefault(req, symbolID, now, creds)
	}
	if err != nil {
		return nil, err
	}

	headers, err := a.signer.Sign(now, method, target, body, creds)
	if err != nil {
		return nil, err
	}
	headers.Set("Content-Type", "application/json")

	return &adapter.WireRequest{
		Method: method,
		Target: target,
		Body:   body,
		Header: headers,
	}, nil
}

func buildCreateOrder(req adapter.OperationRequest, symbolID string) (string, error) {
	for _, name := range []string{adapter.ParamSide, adapter.ParamOrderType, adapter.ParamQuantity} {
		if _, ok := req.Param(name); !ok {
			return "", validationf("missing %s", name)
		}
	}

	side, _ := req.Param(adapter.ParamSide)
	ordType, _ := req.Param(adapter.ParamOrderType)
	qty, _ := req.Param(adapter.ParamQuantity)

	if !positive(qty) {
		return "", validationf("invalid quantity")
	}

	// Only limit orders carry a meaningful price. Any other order type
	// forwards PRICE untouched.
	price, hasPrice := req.Param(adapter.ParamPrice)
	if ordType == "limit" {
		if !hasPrice {
			return "", validationf("missing %s", adapter.ParamPrice)
		}
		if !positive(price) {
			return "", validationf("invalid price")
		}
	}

	if side != "buy" && side != "sell" {
		return "", validationf("invalid side")
	}

	body := createOrderBody{
		InstID:  symbolID,
		TdMode:  tradeModeCash,
		Side:    side,
		OrdType: ordType,
		Sz:      qty,
	}
	if id, ok := req.Param(adapter.ParamClientOrderID); ok {
		body.ClOrdID = &id
	}
	if hasPrice {
		body.Px = &price
	}
	return encode(body)
}

func buildCancelOrder(req adapter.OperationRequest, symbolID string) (string, error) {
	ordID, hasOrd := req.Param(adapter.ParamOrderID)
	clOrdID, hasCl := req.Param(adapter.ParamClientOrderID)
	if ordID == "" && clOrdID == "" {
		return "", validationf("missing %s", adapter.ParamOrderID)
	}

	body := cancelOrderBody{InstID: symbolID}
	if hasOrd && ordID != "" {
		body.OrdID = &ordID
	}
	if hasCl && clOrdID != "" {
		body.ClOrdID = &clOrdID
	}
	return encode(body)
}

// buildCancelBatch splits clOrdIds on commas, preserving order. An empty
// token anywhere in the list rejects the whole request.
func buildCancelBatch(req adapter.OperationRequest, symbolID string) (string, error) {
	raw, ok := req.Param(adapter.ParamClOrdIDs)
	if !ok || raw == "" {
		return "", validationf("invalid clOrdIds")
	}

	ids := strings.Split(raw, ",")
	body := cancelBatchBody{Orders: make([]cancelBatchEntry, 0, len(ids))}
	for _, id := range ids {
		if id == "" {
			return "", validationf("invalid clOrdIds")
		}
		body.Orders = append(body.Orders, cancelBatchEntry{ClOrdID: id, InstID: symbolID})
	}
	return encode(body)
}

func (a *Adapter) openOrdersTarget(symbolID string) string {
	q := url.Values{}
	q.Set("instType", a.cfg.InstrumentType)
	if symbolID != "" {
		q.Set("instId", symbolID)
	}
	return a.cfg.OpenOrdersTarget + "?" + q.Encode()
}

func positive(raw string) bool {
	d, err := decimal.NewFromString(raw)
	return err == nil && d.IsPositive()
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{adapter.ErrValidation}, args...)...)
}
