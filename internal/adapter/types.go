package adapter

import (
	"net/http"
	"time"
)

// Exchange identifies the venue an adapter speaks to.
type Exchange string

const (
	ExchangeOKX Exchange = "okx"
)

// Operation is the exchange-agnostic request kind. Values outside the
// declared constants are carried through verbatim and handed to the
// BaseTranslator fallback.
type Operation string

const (
	OpCreateOrder      Operation = "CREATE_ORDER"
	OpCancelOrder      Operation = "CANCEL_ORDER"
	OpCancelOpenOrders Operation = "CANCEL_OPEN_ORDERS"
	OpGetOpenOrders    Operation = "GET_OPEN_ORDERS"
)

// Canonical parameter names understood by exchange translators.
const (
	ParamSide          = "SIDE"
	ParamOrderType     = "ORDER_TYPE"
	ParamQuantity      = "QUANTITY"
	ParamPrice         = "PRICE"
	ParamClientOrderID = "CLIENT_ORDER_ID"
	ParamOrderID       = "ORDER_ID"
	ParamClOrdIDs      = "clOrdIds"
)

// OperationRequest is one outbound request in generic form. It is owned by
// the caller and only read by translators.
type OperationRequest struct {
	Operation     Operation
	Exchange      Exchange
	SymbolID      string
	Params        map[string]string
	CorrelationID string
}

// Param returns the named parameter and whether it was supplied.
func (r OperationRequest) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// CredentialSet maps credential field names to secret values. The host
// owns it; adapters read it for the duration of one call.
type CredentialSet map[string]string

// WireRequest is the exchange-ready REST request produced by a translator.
// Target is the path plus query, exactly as it was signed.
type WireRequest struct {
	Method string
	Target string
	Body   string
	Header http.Header
}

// Subscription fields.
const (
	FieldMarketDepth = "MARKET_DEPTH"
	FieldTrade       = "TRADE"
	FieldTicker      = "TICKER"
	FieldCandlestick = "CANDLESTICK"
	FieldOrderUpdate = "ORDER_UPDATE"
)

// Subscription options.
const (
	OptionMarketDepthMax             = "MARKET_DEPTH_MAX"
	OptionCandlestickIntervalSeconds = "CANDLESTICK_INTERVAL_SECONDS"
	OptionInstrumentType             = "INSTRUMENT_TYPE"
)

// Subscription describes a streaming channel the host wants to follow.
type Subscription struct {
	Exchange      Exchange
	InstrumentID  string
	Field         string
	Options       map[string]string
	CorrelationID string
}

// EventType classifies a normalized event.
type EventType string

const (
	EventResponse           EventType = "RESPONSE"
	EventRequestStatus      EventType = "REQUEST_STATUS"
	EventSubscriptionStatus EventType = "SUBSCRIPTION_STATUS"
	EventSessionStatus      EventType = "SESSION_STATUS"
	EventSubscriptionData   EventType = "SUBSCRIPTION_DATA"
	EventDiagnostic         EventType = "DIAGNOSTIC"
	EventUnclassified       EventType = "UNCLASSIFIED"
)

// MessageType classifies a single message inside an event.
type MessageType string

const (
	MsgMarketDepth                 MessageType = "MARKET_DATA_EVENTS_MARKET_DEPTH"
	MsgTrade                       MessageType = "MARKET_DATA_EVENTS_TRADE"
	MsgTicker                      MessageType = "MARKET_DATA_EVENTS_TICKER"
	MsgCandlestick                 MessageType = "MARKET_DATA_EVENTS_CANDLESTICK"
	MsgOrderUpdate                 MessageType = "EXECUTION_MANAGEMENT_EVENTS_ORDER_UPDATE"
	MsgSubscriptionStarted         MessageType = "SUBSCRIPTION_STARTED"
	MsgSubscriptionEnded           MessageType = "SUBSCRIPTION_ENDED"
	MsgSubscriptionFailure         MessageType = "SUBSCRIPTION_FAILURE"
	MsgSessionAuthorized           MessageType = "SESSION_AUTHORIZED"
	MsgSessionAuthorizationFailure MessageType = "SESSION_AUTHORIZATION_FAILURE"
	MsgResponseError               MessageType = "RESPONSE_ERROR"
	MsgGenericError                MessageType = "GENERIC_ERROR"
	MsgUnclassified                MessageType = "UNCLASSIFIED"
)

// Element field names shared by all adapters.
const (
	ElemBidPrice      = "BID_PRICE"
	ElemBidSize       = "BID_SIZE"
	ElemAskPrice      = "ASK_PRICE"
	ElemAskSize       = "ASK_SIZE"
	ElemLastPrice     = "LAST_PRICE"
	ElemLastSize      = "LAST_SIZE"
	ElemTradeID       = "TRADE_ID"
	ElemIsBuyerMaker  = "IS_BUYER_MAKER"
	ElemOpenPrice     = "OPEN_PRICE"
	ElemHighPrice     = "HIGH_PRICE"
	ElemLowPrice      = "LOW_PRICE"
	ElemClosePrice    = "CLOSE_PRICE"
	ElemVolume        = "VOLUME"
	ElemOrderID       = "ORDER_ID"
	ElemClientOrderID = "CLIENT_ORDER_ID"
	ElemSide          = "SIDE"
	ElemPrice         = "PRICE"
	ElemQuantity      = "QUANTITY"
	ElemFilledQty     = "CUMULATIVE_FILLED_QUANTITY"
	ElemStatus        = "STATUS"
	ElemCode          = "CODE"
	ElemErrorMessage  = "ERROR_MESSAGE"
	ElemHTTPStatus    = "HTTP_STATUS"
	ElemRaw           = "RAW"
)

// Element is one flat record inside a message (a book level, a trade, ...).
type Element map[string]string

// Message is one normalized unit of information. Snapshot marks market
// depth messages that replace the book rather than amend it. Err is set on
// diagnostic messages.
type Message struct {
	Type           MessageType
	InstrumentID   string
	Channel        string
	Time           time.Time
	TimeReceived   time.Time
	CorrelationIDs []string
	Snapshot       bool
	Elements       []Element
	Err            error
}

// Event is what adapters hand to the host event pipeline.
type Event struct {
	Type     EventType
	Exchange Exchange
	Messages []Message
}

// PriceLevel represents a single bid or ask at a given price.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookUpdate is the top-of-book view derived from market depth messages.
// Downstream consumers (Redis, circuit breaker) operate on this type
// regardless of origin.
type BookUpdate struct {
	Exchange  Exchange
	MarketID  string
	Channel   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}
