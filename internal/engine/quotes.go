package engine

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

type quoteKey struct {
	exchange     adapter.Exchange
	instrumentID string
}

type quote struct {
	bid, ask decimal.Decimal
}

// Quotes keeps the latest best bid and ask per instrument from a
// BookUpdate feed.
type Quotes struct {
	feed <-chan adapter.BookUpdate

	mu     sync.RWMutex
	quotes map[quoteKey]quote
}

// NewQuotes creates a Quotes reading from feed. Call Run to start it.
func NewQuotes(feed <-chan adapter.BookUpdate) *Quotes {
	return &Quotes{
		feed:   feed,
		quotes: make(map[quoteKey]quote),
	}
}

// Run consumes the feed until ctx is cancelled or the feed closes.
func (q *Quotes) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-q.feed:
			if !ok {
				return
			}
			q.record(update)
		}
	}
}

// BestQuote implements QuoteSource. ok is false until the instrument has
// at least one level on either side.
func (q *Quotes) BestQuote(exchange adapter.Exchange, instrumentID string) (bid, ask decimal.Decimal, ok bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	v, ok := q.quotes[quoteKey{exchange, instrumentID}]
	return v.bid, v.ask, ok
}

func (q *Quotes) record(update adapter.BookUpdate) {
	key := quoteKey{update.Exchange, update.MarketID}
	if len(update.Bids) == 0 && len(update.Asks) == 0 {
		q.mu.Lock()
		delete(q.quotes, key)
		q.mu.Unlock()
		return
	}

	var v quote
	if len(update.Bids) > 0 {
		v.bid = decimal.NewFromFloat(update.Bids[0].Price)
	}
	if len(update.Asks) > 0 {
		v.ask = decimal.NewFromFloat(update.Asks[0].Price)
	}
	q.mu.Lock()
	q.quotes[key] = v
	q.mu.Unlock()
}
