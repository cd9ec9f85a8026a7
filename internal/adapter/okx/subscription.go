package okx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// Channel names on the v5 streams.
const (
	channelBooks    = "books"
	channelBooks5   = "books5"
	channelBBO      = "bbo-tbt"
	channelTrades   = "trades"
	channelTickers  = "tickers"
	channelOrders   = "orders"
	channelCandle1m = "candle1m"
)

// candleChannels maps CANDLESTICK_INTERVAL_SECONDS to the channel name.
var candleChannels = map[int]string{
	60:     channelCandle1m,
	180:    "candle3m",
	300:    "candle5m",
	900:    "candle15m",
	1800:   "candle30m",
	3600:   "candle1H",
	7200:   "candle2H",
	14400:  "candle4H",
	21600:  "candle6H",
	43200:  "candle12H",
	86400:  "candle1D",
	604800: "candle1W",
}

type channelArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

type channelRequest struct {
	Op   string       `json:"op"`
	Args []channelArg `json:"args"`
}

// TranslateSubscription returns the subscribe frame for sub. symbolID is
// the exchange-native instrument; when empty, sub.InstrumentID is used.
func (a *Adapter) TranslateSubscription(sub adapter.Subscription, _ time.Time, symbolID string) (string, error) {
	return a.channelMessage("subscribe", sub, symbolID)
}

// UnsubscribeMessage returns the frame that cancels a subscription made
// with TranslateSubscription.
func (a *Adapter) UnsubscribeMessage(sub adapter.Subscription, symbolID string) (string, error) {
	return a.channelMessage("unsubscribe", sub, symbolID)
}

func (a *Adapter) channelMessage(op string, sub adapter.Subscription, symbolID string) (string, error) {
	arg, err := a.channelFor(sub)
	if err != nil {
		return "", err
	}
	arg.InstID = symbolID
	if arg.InstID == "" {
		arg.InstID = sub.InstrumentID
	}
	return encode(channelRequest{Op: op, Args: []channelArg{arg}})
}

func (a *Adapter) channelFor(sub adapter.Subscription) (channelArg, error) {
	switch sub.Field {
	case adapter.FieldMarketDepth:
		ch, err := depthChannel(sub.Options[adapter.OptionMarketDepthMax])
		return channelArg{Channel: ch}, err
	case adapter.FieldTrade:
		return channelArg{Channel: channelTrades}, nil
	case adapter.FieldTicker:
		return channelArg{Channel: channelTickers}, nil
	case adapter.FieldCandlestick:
		ch, err := candleChannel(sub.Options[adapter.OptionCandlestickIntervalSeconds])
		return channelArg{Channel: ch}, err
	case adapter.FieldOrderUpdate:
		instType := sub.Options[adapter.OptionInstrumentType]
		if instType == "" {
			instType = a.cfg.InstrumentType
		}
		return channelArg{Channel: channelOrders, InstType: instType}, nil
	default:
		return channelArg{}, fmt.Errorf("%w: subscription field %q", adapter.ErrUnsupportedOperation, sub.Field)
	}
}

// depthChannel picks the narrowest book channel that covers maxDepth.
// An unset depth subscribes to the full book.
// DepthChannel names the depth channel a MARKET_DEPTH subscription with
// MARKET_DEPTH_MAX of maxDepth lands on. A non-positive depth means the full
// book.
func DepthChannel(maxDepth int) string {
	if maxDepth <= 0 {
		return channelBooks
	}
	ch, _ := depthChannel(strconv.Itoa(maxDepth))
	return ch
}

func depthChannel(maxDepth string) (string, error) {
	if maxDepth == "" {
		return channelBooks, nil
	}
	n, err := strconv.Atoi(maxDepth)
	if err != nil || n <= 0 {
		return "", validationf("invalid %s %q", adapter.OptionMarketDepthMax, maxDepth)
	}
	switch {
	case n == 1:
		return channelBBO, nil
	case n <= 5:
		return channelBooks5, nil
	default:
		return channelBooks, nil
	}
}

func candleChannel(interval string) (string, error) {
	if interval == "" {
		return channelCandle1m, nil
	}
	n, err := strconv.Atoi(interval)
	if err != nil {
		return "", validationf("invalid %s %q", adapter.OptionCandlestickIntervalSeconds, interval)
	}
	ch, ok := candleChannels[n]
	if !ok {
		return "", validationf("invalid %s %q", adapter.OptionCandlestickIntervalSeconds, interval)
	}
	return ch, nil
}
