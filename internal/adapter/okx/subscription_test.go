package okx

import (
	"errors"
	"testing"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

func TestTranslateSubscription_Channels(t *testing.T) {
	a := newTestAdapter()

	tests := []struct {
		name string
		sub  adapter.Subscription
		want string
	}{
		{
			name: "full book",
			sub:  adapter.Subscription{Field: adapter.FieldMarketDepth},
			want: `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`,
		},
		{
			name: "top of book",
			sub:  adapter.Subscription{Field: adapter.FieldMarketDepth, Options: map[string]string{adapter.OptionMarketDepthMax: "1"}},
			want: `{"op":"subscribe","args":[{"channel":"bbo-tbt","instId":"BTC-USDT"}]}`,
		},
		{
			name: "five levels",
			sub:  adapter.Subscription{Field: adapter.FieldMarketDepth, Options: map[string]string{adapter.OptionMarketDepthMax: "5"}},
			want: `{"op":"subscribe","args":[{"channel":"books5","instId":"BTC-USDT"}]}`,
		},
		{
			name: "deep book",
			sub:  adapter.Subscription{Field: adapter.FieldMarketDepth, Options: map[string]string{adapter.OptionMarketDepthMax: "50"}},
			want: `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`,
		},
		{
			name: "trades",
			sub:  adapter.Subscription{Field: adapter.FieldTrade},
			want: `{"op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}`,
		},
		{
			name: "ticker",
			sub:  adapter.Subscription{Field: adapter.FieldTicker},
			want: `{"op":"subscribe","args":[{"channel":"tickers","instId":"BTC-USDT"}]}`,
		},
		{
			name: "hourly candles",
			sub:  adapter.Subscription{Field: adapter.FieldCandlestick, Options: map[string]string{adapter.OptionCandlestickIntervalSeconds: "3600"}},
			want: `{"op":"subscribe","args":[{"channel":"candle1H","instId":"BTC-USDT"}]}`,
		},
		{
			name: "default candles",
			sub:  adapter.Subscription{Field: adapter.FieldCandlestick},
			want: `{"op":"subscribe","args":[{"channel":"candle1m","instId":"BTC-USDT"}]}`,
		},
		{
			name: "order updates",
			sub:  adapter.Subscription{Field: adapter.FieldOrderUpdate},
			want: `{"op":"subscribe","args":[{"channel":"orders","instType":"SPOT","instId":"BTC-USDT"}]}`,
		},
		{
			name: "order updates with type",
			sub:  adapter.Subscription{Field: adapter.FieldOrderUpdate, Options: map[string]string{adapter.OptionInstrumentType: "SWAP"}},
			want: `{"op":"subscribe","args":[{"channel":"orders","instType":"SWAP","instId":"BTC-USDT"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.TranslateSubscription(tt.sub, fixedNow, "BTC-USDT")
			if err != nil {
				t.Fatalf("TranslateSubscription: %v", err)
			}
			if got != tt.want {
				t.Fatalf("frame mismatch:\nwant %s\ngot  %s", tt.want, got)
			}
		})
	}
}

func TestTranslateSubscription_FallsBackToInstrumentID(t *testing.T) {
	a := newTestAdapter()
	sub := adapter.Subscription{InstrumentID: "ETH-USDT", Field: adapter.FieldTrade}

	got, err := a.TranslateSubscription(sub, fixedNow, "")
	if err != nil {
		t.Fatalf("TranslateSubscription: %v", err)
	}
	if want := `{"op":"subscribe","args":[{"channel":"trades","instId":"ETH-USDT"}]}`; got != want {
		t.Fatalf("frame mismatch:\nwant %s\ngot  %s", want, got)
	}
}

func TestTranslateSubscription_Errors(t *testing.T) {
	a := newTestAdapter()

	tests := []struct {
		name string
		sub  adapter.Subscription
		want error
	}{
		{"unknown field", adapter.Subscription{Field: "FUNDING_RATE"}, adapter.ErrUnsupportedOperation},
		{"bad depth", adapter.Subscription{Field: adapter.FieldMarketDepth, Options: map[string]string{adapter.OptionMarketDepthMax: "0"}}, adapter.ErrValidation},
		{"non-numeric depth", adapter.Subscription{Field: adapter.FieldMarketDepth, Options: map[string]string{adapter.OptionMarketDepthMax: "x"}}, adapter.ErrValidation},
		{"unsupported interval", adapter.Subscription{Field: adapter.FieldCandlestick, Options: map[string]string{adapter.OptionCandlestickIntervalSeconds: "7"}}, adapter.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := a.TranslateSubscription(tt.sub, fixedNow, "BTC-USDT")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if frame != "" {
				t.Fatalf("expected empty frame on error, got %s", frame)
			}
		})
	}
}

func TestUnsubscribeMessage(t *testing.T) {
	a := newTestAdapter()

	got, err := a.UnsubscribeMessage(adapter.Subscription{Field: adapter.FieldTicker}, "BTC-USDT")
	if err != nil {
		t.Fatalf("UnsubscribeMessage: %v", err)
	}
	if want := `{"op":"unsubscribe","args":[{"channel":"tickers","instId":"BTC-USDT"}]}`; got != want {
		t.Fatalf("frame mismatch:\nwant %s\ngot  %s", want, got)
	}
}

func TestDepthChannel(t *testing.T) {
	tests := []struct {
		depth int
		want  string
	}{
		{0, "books"},
		{1, "bbo-tbt"},
		{5, "books5"},
		{10, "books"},
	}
	for _, tt := range tests {
		if got := DepthChannel(tt.depth); got != tt.want {
			t.Fatalf("DepthChannel(%d): want %s, got %s", tt.depth, tt.want, got)
		}
	}
}
