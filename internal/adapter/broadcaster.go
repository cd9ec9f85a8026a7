package adapter

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// UpdatesProvider is satisfied by anything that publishes BookUpdates, a
// Stream in production.
type UpdatesProvider interface {
	Updates() <-chan BookUpdate
}

// instrumentKey identifies one instrument on one exchange.
type instrumentKey struct {
	Exchange Exchange
	MarketID string
}

// BookFilter selects the BookUpdates a subscriber receives.
type BookFilter func(BookUpdate) bool

type bookSubscriber struct {
	name   string
	accept BookFilter
	ch     chan BookUpdate
}

// Broadcaster fans BookUpdates from any number of streams out to filtered
// subscribers. Delivery never blocks: a subscriber whose buffer is full
// misses the update.
type Broadcaster struct {
	sources []<-chan BookUpdate
	log     *zap.Logger

	mu   sync.RWMutex
	subs []bookSubscriber
}

// NewBroadcaster creates a Broadcaster ready for source registration. A nil
// logger discards drop notices.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{log: logger}
}

// Register adds a provider's update channel as a source. Must be called
// before Run.
func (b *Broadcaster) Register(provider UpdatesProvider) {
	b.sources = append(b.sources, provider.Updates())
}

// Subscribe returns a channel of updates for one instrument, across all of
// its depth channels.
func (b *Broadcaster) Subscribe(exchange Exchange, marketID string) <-chan BookUpdate {
	return b.SubscribeFunc("instrument:"+marketID, 256, func(u BookUpdate) bool {
		return u.Exchange == exchange && u.MarketID == marketID
	})
}

// SubscribeChannel returns a channel of updates from one depth channel of
// exchange, across all instruments. Consumers that need a single coherent
// book per instrument use this, so that a second depth feed on the same
// instrument cannot interleave with theirs.
func (b *Broadcaster) SubscribeChannel(exchange Exchange, channel string) <-chan BookUpdate {
	return b.SubscribeFunc("channel:"+channel, 512, func(u BookUpdate) bool {
		return u.Exchange == exchange && u.Channel == channel
	})
}

// SubscribeAll returns a channel of every update.
func (b *Broadcaster) SubscribeAll() <-chan BookUpdate {
	return b.SubscribeFunc("all", 512, func(BookUpdate) bool { return true })
}

// SubscribeFunc registers a subscriber with its own filter and buffer size.
// name only labels drop logs.
func (b *Broadcaster) SubscribeFunc(name string, buffer int, accept BookFilter) <-chan BookUpdate {
	ch := make(chan BookUpdate, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, bookSubscriber{name: name, accept: accept, ch: ch})
	b.mu.Unlock()
	return ch
}

// Run consumes every registered source until ctx is cancelled or all
// sources close.
func (b *Broadcaster) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range b.sources {
		wg.Add(1)
		go func(ch <-chan BookUpdate) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update, ok := <-ch:
					if !ok {
						return
					}
					b.distribute(update)
				}
			}
		}(src)
	}
	wg.Wait()
}

func (b *Broadcaster) distribute(update BookUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.accept(update) {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			b.log.Debug("broadcaster: dropping update for slow subscriber",
				zap.String("subscriber", sub.name),
				zap.String("exchange", string(update.Exchange)),
				zap.String("instrument", update.MarketID),
				zap.String("channel", update.Channel))
		}
	}
}
