package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// maxRawLen bounds how much of an unreadable frame is copied into events.
const maxRawLen = 512

// --- Raw wire types ---

type rawArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType"`
	InstID   string `json:"instId"`
}

// rawEnvelope covers both event frames ({"event":...}) and channel data
// frames ({"arg":...,"data":[...]}). Data is decoded per channel.
type rawEnvelope struct {
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    *rawArg         `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type rawBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Ts   string     `json:"ts"`
}

type rawTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type rawTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	LastSz string `json:"lastSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	Ts     string `json:"ts"`
}

type rawOrder struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	State     string `json:"state"`
	UTime     string `json:"uTime"`
}

// loginErrorCodes are the error codes the stream uses for a rejected login.
var loginErrorCodes = map[string]bool{
	"60005": true, // invalid apiKey
	"60006": true, // timestamp expired
	"60007": true, // invalid sign
	"60009": true, // login failed
	"60024": true, // wrong passphrase
}

// ParseMessage converts one stream frame into normalized events. Keepalive
// frames yield no events. Unreadable frames yield a single DIAGNOSTIC event
// instead of an error so that one bad frame never interrupts the stream.
func (a *Adapter) ParseMessage(raw []byte, receivedAt time.Time) []adapter.Event {
	text := bytes.TrimSpace(raw)
	if len(text) == 0 || string(text) == "pong" {
		return nil
	}

	var env rawEnvelope
	if err := json.Unmarshal(text, &env); err != nil {
		return []adapter.Event{a.diagnostic(text, receivedAt, err)}
	}

	if env.Event != "" {
		return []adapter.Event{a.handleEvent(env, text, receivedAt)}
	}
	if env.Arg != nil && len(env.Data) > 0 {
		return []adapter.Event{a.handleData(env, text, receivedAt)}
	}
	return []adapter.Event{unclassified(text, receivedAt)}
}

func (a *Adapter) handleEvent(env rawEnvelope, raw []byte, receivedAt time.Time) adapter.Event {
	msg := adapter.Message{TimeReceived: receivedAt}
	if env.Arg != nil {
		msg.InstrumentID = env.Arg.InstID
		msg.Channel = env.Arg.Channel
	}

	evType := adapter.EventSubscriptionStatus
	switch env.Event {
	case "subscribe":
		msg.Type = adapter.MsgSubscriptionStarted
	case "unsubscribe":
		msg.Type = adapter.MsgSubscriptionEnded
	case "login":
		evType = adapter.EventSessionStatus
		msg.Type = adapter.MsgSessionAuthorized
		if env.Code != "" && env.Code != "0" {
			msg.Type = adapter.MsgSessionAuthorizationFailure
			msg.Elements = []adapter.Element{errorElement(env.Code, env.Msg)}
		}
	case "error":
		msg.Type = adapter.MsgSubscriptionFailure
		if loginErrorCodes[env.Code] {
			evType = adapter.EventSessionStatus
			msg.Type = adapter.MsgSessionAuthorizationFailure
		}
		msg.Elements = []adapter.Element{errorElement(env.Code, env.Msg)}
		a.log.Warn("okx: exchange error", zap.String("code", env.Code), zap.String("msg", env.Msg))
	default:
		return unclassified(raw, receivedAt)
	}

	return adapter.Event{Type: evType, Exchange: adapter.ExchangeOKX, Messages: []adapter.Message{msg}}
}

func (a *Adapter) handleData(env rawEnvelope, raw []byte, receivedAt time.Time) adapter.Event {
	var (
		msgs []adapter.Message
		err  error
	)

	ch := env.Arg.Channel
	switch {
	case ch == channelBBO || strings.HasPrefix(ch, channelBooks):
		msgs, err = parseBooks(env, receivedAt)
	case ch == channelTrades || ch == "trades-all":
		msgs, err = parseTrades(env, receivedAt)
	case ch == channelTickers:
		msgs, err = parseTickers(env, receivedAt)
	case strings.HasPrefix(ch, "candle"):
		msgs, err = parseCandles(env, receivedAt)
	case ch == channelOrders:
		msgs, err = parseOrders(env, receivedAt)
	default:
		return unclassified(raw, receivedAt)
	}
	if err != nil {
		return a.diagnostic(raw, receivedAt, err)
	}

	return adapter.Event{Type: adapter.EventSubscriptionData, Exchange: adapter.ExchangeOKX, Messages: msgs}
}

// parseBooks emits one message per data entry. Only books sends
// incremental updates; every other depth channel pushes full snapshots.
func parseBooks(env rawEnvelope, receivedAt time.Time) ([]adapter.Message, error) {
	var books []rawBook
	if err := json.Unmarshal(env.Data, &books); err != nil {
		return nil, err
	}

	snapshot := env.Action != "update"
	msgs := make([]adapter.Message, 0, len(books))
	for _, b := range books {
		elems := make([]adapter.Element, 0, len(b.Bids)+len(b.Asks))
		for _, lvl := range b.Bids {
			if len(lvl) < 2 {
				return nil, fmt.Errorf("short bid level %v", lvl)
			}
			elems = append(elems, adapter.Element{adapter.ElemBidPrice: lvl[0], adapter.ElemBidSize: lvl[1]})
		}
		for _, lvl := range b.Asks {
			if len(lvl) < 2 {
				return nil, fmt.Errorf("short ask level %v", lvl)
			}
			elems = append(elems, adapter.Element{adapter.ElemAskPrice: lvl[0], adapter.ElemAskSize: lvl[1]})
		}
		msgs = append(msgs, adapter.Message{
			Type:         adapter.MsgMarketDepth,
			InstrumentID: env.Arg.InstID,
			Channel:      env.Arg.Channel,
			Time:         parseMillis(b.Ts),
			TimeReceived: receivedAt,
			Snapshot:     snapshot,
			Elements:     elems,
		})
	}
	return msgs, nil
}

func parseTrades(env rawEnvelope, receivedAt time.Time) ([]adapter.Message, error) {
	var trades []rawTrade
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return nil, err
	}

	msgs := make([]adapter.Message, 0, len(trades))
	for _, t := range trades {
		// The side is the taker's, so a sell hits a resting buyer.
		maker := "0"
		if t.Side == "sell" {
			maker = "1"
		}
		msgs = append(msgs, adapter.Message{
			Type:         adapter.MsgTrade,
			InstrumentID: firstNonEmpty(t.InstID, env.Arg.InstID),
			Channel:      env.Arg.Channel,
			Time:         parseMillis(t.Ts),
			TimeReceived: receivedAt,
			Elements: []adapter.Element{{
				adapter.ElemTradeID:      t.TradeID,
				adapter.ElemLastPrice:    t.Px,
				adapter.ElemLastSize:     t.Sz,
				adapter.ElemIsBuyerMaker: maker,
			}},
		})
	}
	return msgs, nil
}

func parseTickers(env rawEnvelope, receivedAt time.Time) ([]adapter.Message, error) {
	var tickers []rawTicker
	if err := json.Unmarshal(env.Data, &tickers); err != nil {
		return nil, err
	}

	msgs := make([]adapter.Message, 0, len(tickers))
	for _, t := range tickers {
		msgs = append(msgs, adapter.Message{
			Type:         adapter.MsgTicker,
			InstrumentID: firstNonEmpty(t.InstID, env.Arg.InstID),
			Channel:      env.Arg.Channel,
			Time:         parseMillis(t.Ts),
			TimeReceived: receivedAt,
			Elements: []adapter.Element{{
				adapter.ElemLastPrice: t.Last,
				adapter.ElemLastSize:  t.LastSz,
				adapter.ElemBidPrice:  t.BidPx,
				adapter.ElemBidSize:   t.BidSz,
				adapter.ElemAskPrice:  t.AskPx,
				adapter.ElemAskSize:   t.AskSz,
			}},
		})
	}
	return msgs, nil
}

// parseCandles reads rows of [ts, open, high, low, close, volume, ...].
func parseCandles(env rawEnvelope, receivedAt time.Time) ([]adapter.Message, error) {
	var rows [][]string
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, err
	}

	msgs := make([]adapter.Message, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			return nil, fmt.Errorf("short candle row %v", r)
		}
		msgs = append(msgs, adapter.Message{
			Type:         adapter.MsgCandlestick,
			InstrumentID: env.Arg.InstID,
			Channel:      env.Arg.Channel,
			Time:         parseMillis(r[0]),
			TimeReceived: receivedAt,
			Elements: []adapter.Element{{
				adapter.ElemOpenPrice:  r[1],
				adapter.ElemHighPrice:  r[2],
				adapter.ElemLowPrice:   r[3],
				adapter.ElemClosePrice: r[4],
				adapter.ElemVolume:     r[5],
			}},
		})
	}
	return msgs, nil
}

func parseOrders(env rawEnvelope, receivedAt time.Time) ([]adapter.Message, error) {
	var orders []rawOrder
	if err := json.Unmarshal(env.Data, &orders); err != nil {
		return nil, err
	}

	msgs := make([]adapter.Message, 0, len(orders))
	for _, o := range orders {
		msgs = append(msgs, adapter.Message{
			Type:         adapter.MsgOrderUpdate,
			InstrumentID: firstNonEmpty(o.InstID, env.Arg.InstID),
			Channel:      env.Arg.Channel,
			Time:         parseMillis(o.UTime),
			TimeReceived: receivedAt,
			Elements: []adapter.Element{{
				adapter.ElemOrderID:       o.OrdID,
				adapter.ElemClientOrderID: o.ClOrdID,
				adapter.ElemSide:          o.Side,
				adapter.ElemPrice:         o.Px,
				adapter.ElemQuantity:      o.Sz,
				adapter.ElemFilledQty:     o.AccFillSz,
				adapter.ElemStatus:        o.State,
			}},
		})
	}
	return msgs, nil
}

func (a *Adapter) diagnostic(raw []byte, receivedAt time.Time, cause error) adapter.Event {
	err := fmt.Errorf("%w: %v", adapter.ErrParse, cause)
	a.log.Warn("okx: dropping malformed frame", zap.Error(err), zap.Int("bytes", len(raw)))

	return adapter.Event{
		Type:     adapter.EventDiagnostic,
		Exchange: adapter.ExchangeOKX,
		Messages: []adapter.Message{{
			Type:         adapter.MsgGenericError,
			TimeReceived: receivedAt,
			Err:          err,
			Elements: []adapter.Element{{
				adapter.ElemErrorMessage: err.Error(),
				adapter.ElemRaw:          truncate(raw),
			}},
		}},
	}
}

func unclassified(raw []byte, receivedAt time.Time) adapter.Event {
	return adapter.Event{
		Type:     adapter.EventUnclassified,
		Exchange: adapter.ExchangeOKX,
		Messages: []adapter.Message{{
			Type:         adapter.MsgUnclassified,
			TimeReceived: receivedAt,
			Elements:     []adapter.Element{{adapter.ElemRaw: string(raw)}},
		}},
	}
}

func errorElement(code, msg string) adapter.Element {
	return adapter.Element{adapter.ElemCode: code, adapter.ElemErrorMessage: msg}
}

// parseMillis converts a Unix-millisecond string to time.Time.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(raw []byte) string {
	if len(raw) > maxRawLen {
		return string(raw[:maxRawLen])
	}
	return string(raw)
}
