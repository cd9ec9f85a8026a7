package adapter

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultBookDepth is how many levels per side a DepthBook publishes.
const DefaultBookDepth = 10

// bookSide maps a price string, as sent by the exchange, to its size.
type bookSide map[string]decimal.Decimal

// localBook is the merged depth for one instrument on one channel.
type localBook struct {
	bids bookSide
	asks bookSide
}

// bookKey separates books per channel: an exchange may push several depth
// feeds for one instrument, each with its own snapshot and delta sequence.
type bookKey struct {
	Exchange     Exchange
	InstrumentID string
	Channel      string
}

// DepthBook maintains local order books from MARKET_DEPTH messages and
// derives the BookUpdate view consumed by the Broadcaster. Snapshot messages
// replace the book; other messages amend it, and a zero size removes the
// level. Each (exchange, instrument, channel) has its own book.
type DepthBook struct {
	depth int

	mu    sync.Mutex
	books map[bookKey]*localBook
}

// NewDepthBook creates a DepthBook publishing up to depth levels per side.
// A non-positive depth uses DefaultBookDepth.
func NewDepthBook(depth int) *DepthBook {
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	return &DepthBook{
		depth: depth,
		books: make(map[bookKey]*localBook),
	}
}

// Apply merges one depth message and returns the resulting top-of-book
// view. ok is false when msg is not market depth or the book is empty.
func (db *DepthBook) Apply(exchange Exchange, msg Message) (update BookUpdate, ok bool) {
	if msg.Type != MsgMarketDepth {
		return BookUpdate{}, false
	}
	key := bookKey{Exchange: exchange, InstrumentID: msg.InstrumentID, Channel: msg.Channel}

	db.mu.Lock()
	defer db.mu.Unlock()

	book, exists := db.books[key]
	if !exists || msg.Snapshot {
		book = &localBook{bids: bookSide{}, asks: bookSide{}}
		db.books[key] = book
	}

	for _, elem := range msg.Elements {
		if px, ok := elem[ElemBidPrice]; ok {
			book.bids.set(px, elem[ElemBidSize])
		}
		if px, ok := elem[ElemAskPrice]; ok {
			book.asks.set(px, elem[ElemAskSize])
		}
	}

	if len(book.bids) == 0 && len(book.asks) == 0 {
		return BookUpdate{}, false
	}

	ts := msg.Time
	if ts.IsZero() {
		ts = msg.TimeReceived
	}
	return BookUpdate{
		Exchange:  exchange,
		MarketID:  msg.InstrumentID,
		Channel:   msg.Channel,
		Bids:      book.bids.top(db.depth, true),
		Asks:      book.asks.top(db.depth, false),
		Timestamp: ts,
	}, true
}

// Reset drops every channel's book for an instrument, e.g. after its last
// depth subscription is cancelled.
func (db *DepthBook) Reset(exchange Exchange, instrumentID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key := range db.books {
		if key.Exchange == exchange && key.InstrumentID == instrumentID {
			delete(db.books, key)
		}
	}
}

func (s bookSide) set(price, size string) {
	sz, err := decimal.NewFromString(size)
	if err != nil || !sz.IsPositive() {
		delete(s, price)
		return
	}
	s[price] = sz
}

// top returns up to n levels, best first: highest price for bids, lowest
// for asks.
func (s bookSide) top(n int, isBid bool) []PriceLevel {
	type level struct {
		px decimal.Decimal
		sz decimal.Decimal
	}
	levels := make([]level, 0, len(s))
	for raw, sz := range s {
		px, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		levels = append(levels, level{px: px, sz: sz})
	}
	sort.Slice(levels, func(i, j int) bool {
		if isBid {
			return levels[i].px.GreaterThan(levels[j].px)
		}
		return levels[i].px.LessThan(levels[j].px)
	})
	if len(levels) > n {
		levels = levels[:n]
	}

	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.px.InexactFloat64(), Size: l.sz.InexactFloat64()}
	}
	return out
}
