package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// Sentinel errors returned by Validate.
var (
	ErrQuantityTooLow = errors.New("quantity below minimum lot size")
	ErrOrderTooLarge  = errors.New("order notional above per-order cap")
	ErrPriceBand      = errors.New("limit price outside allowed band")
	ErrNoQuote        = errors.New("no quote for market order")
)

// ExchangeConstraints defines per-exchange preflight limits. Zero values
// disable the corresponding check.
type ExchangeConstraints struct {
	MinQuantity      decimal.Decimal
	MaxOrderNotional decimal.Decimal
	// PriceBandBps bounds how far through the opposite best price a limit
	// order may be placed, in basis points.
	PriceBandBps int64
}

// DefaultConstraints maps each exchange to its validation rules.
var DefaultConstraints = map[adapter.Exchange]ExchangeConstraints{
	adapter.ExchangeOKX: {
		MinQuantity:  decimal.RequireFromString("0.00000001"),
		PriceBandBps: 500,
	},
}

// TradingGate is the interface for checking whether trading is allowed.
// Satisfied by adapter.CircuitBreaker.
type TradingGate interface {
	Check(exchange adapter.Exchange, instrumentID string) error
}

// QuoteSource returns the current best bid and ask. Satisfied by *Quotes.
type QuoteSource interface {
	BestQuote(exchange adapter.Exchange, instrumentID string) (bid, ask decimal.Decimal, ok bool)
}

// Validator performs pre-flight checks on order entry before anything is
// signed. It fails fast: the first failing check returns an error. Only
// CREATE_ORDER is checked; cancels and queries always pass so positions
// can be unwound while trading is halted.
type Validator struct {
	gate        TradingGate
	quotes      QuoteSource
	constraints map[adapter.Exchange]ExchangeConstraints
}

// NewValidator creates a Validator with the given circuit breaker gate,
// quote source, and default exchange constraints. quotes may be nil, in
// which case price band and market order checks are skipped.
func NewValidator(gate TradingGate, quotes QuoteSource) *Validator {
	return &Validator{
		gate:        gate,
		quotes:      quotes,
		constraints: DefaultConstraints,
	}
}

// Validate runs all pre-flight checks on req.
func (v *Validator) Validate(req adapter.OperationRequest) error {
	if req.Operation != adapter.OpCreateOrder {
		return nil
	}

	// 1. Exchange constraints.
	ec, ok := v.constraints[req.Exchange]
	if !ok {
		return fmt.Errorf("%w: %s", adapter.ErrUnknownExchange, req.Exchange)
	}

	// 2. Quantity check. Malformed numbers are left to the translator.
	qty, qtyErr := decimalParam(req, adapter.ParamQuantity)
	if qtyErr == nil && !ec.MinQuantity.IsZero() && qty.LessThan(ec.MinQuantity) {
		return fmt.Errorf("%w: %s < minimum %s", ErrQuantityTooLow, qty, ec.MinQuantity)
	}

	// 3. Circuit breaker check.
	if v.gate != nil {
		if err := v.gate.Check(req.Exchange, req.SymbolID); err != nil {
			return err
		}
	}

	// A PRICE on a non-limit order is forwarded but never priced against.
	ordType, _ := req.Param(adapter.ParamOrderType)
	price, priceErr := decimalParam(req, adapter.ParamPrice)
	hasPrice := ordType == "limit" && priceErr == nil

	// 4. Per-order notional cap.
	if hasPrice && qtyErr == nil && !ec.MaxOrderNotional.IsZero() {
		if n := qty.Mul(price); n.GreaterThan(ec.MaxOrderNotional) {
			return fmt.Errorf("%w: %s > %s", ErrOrderTooLarge, n, ec.MaxOrderNotional)
		}
	}

	if v.quotes == nil {
		return nil
	}
	bid, ask, quoted := v.quotes.BestQuote(req.Exchange, req.SymbolID)

	// 5. Market orders need a live reference price.
	if !hasPrice {
		if !quoted {
			return fmt.Errorf("%w: %s", ErrNoQuote, req.SymbolID)
		}
		return nil
	}

	// 6. Price band: a buy may not cross more than the band above the best
	// ask, a sell not more than the band below the best bid.
	if !quoted || ec.PriceBandBps == 0 {
		return nil
	}
	band := decimal.New(ec.PriceBandBps, -4)
	side, _ := req.Param(adapter.ParamSide)
	switch side {
	case "buy":
		if limit := ask.Mul(decimal.NewFromInt(1).Add(band)); !ask.IsZero() && price.GreaterThan(limit) {
			return fmt.Errorf("%w: buy %s > %s", ErrPriceBand, price, limit)
		}
	case "sell":
		if limit := bid.Mul(decimal.NewFromInt(1).Sub(band)); !bid.IsZero() && price.LessThan(limit) {
			return fmt.Errorf("%w: sell %s < %s", ErrPriceBand, price, limit)
		}
	}
	return nil
}

func decimalParam(req adapter.OperationRequest, name string) (decimal.Decimal, error) {
	raw, ok := req.Param(name)
	if !ok {
		return decimal.Zero, fmt.Errorf("missing %s", name)
	}
	return decimal.NewFromString(raw)
}
