package adapter

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is a GoRedis; in tests a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// GoRedis adapts *redis.Client to RedisClient.
type GoRedis struct {
	c *redis.Client
}

// NewGoRedis connects to addr and verifies the connection with PING.
func NewGoRedis(ctx context.Context, addr, password string, db int) (*GoRedis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return &GoRedis{c: c}, nil
}

// HSet implements RedisClient.
func (g *GoRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

// Close releases the underlying connection pool.
func (g *GoRedis) Close() error { return g.c.Close() }

// bookSnapshot holds the last-written best bid/ask for an instrument so
// duplicate writes can be skipped.
type bookSnapshot struct {
	Bid string
	Ask string
}

// RedisWriter subscribes to a Broadcaster's unified stream and persists
// the best bid/ask for every instrument into Redis using the schema:
//
//	Key:    book:{exchange}:{instId}
//	Fields: bid, ask, ts
//
// Writes are non-blocking: updates are buffered in an internal channel and
// flushed by a dedicated goroutine. Duplicate prices are suppressed.
type RedisWriter struct {
	client RedisClient
	feed   <-chan BookUpdate
	buf    chan BookUpdate
	log    *zap.Logger

	mu   sync.Mutex
	last map[string]bookSnapshot // keyed by Redis key
}

// NewRedisWriter creates a RedisWriter that reads feed, a single depth
// channel from the Broadcaster, and writes to the given Redis client.
func NewRedisWriter(client RedisClient, feed <-chan BookUpdate, logger *zap.Logger) *RedisWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWriter{
		client: client,
		feed:   feed,
		buf:    make(chan BookUpdate, 1024),
		log:    logger,
		last:   make(map[string]bookSnapshot),
	}
}

// Run starts two goroutines: one to drain the Broadcaster feed into an
// internal buffer, and one to flush buffered updates to Redis. It blocks
// until ctx is cancelled.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	// Ingestion: drain the Broadcaster feed into the internal buffer
	// so we never block the Broadcaster.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- update:
				default:
					// Buffer full, drop to keep up.
				}
			}
		}
	}()

	// Flusher: write buffered updates to Redis.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, update)
			}
		}
	}()

	wg.Wait()
}

// write extracts best bid/ask, checks for duplicates, and issues an HSET.
func (rw *RedisWriter) write(ctx context.Context, update BookUpdate) {
	bestBid := bestPrice(update.Bids, true)
	bestAsk := bestPrice(update.Asks, false)

	key := fmt.Sprintf("book:%s:%s", update.Exchange, update.MarketID)

	rw.mu.Lock()
	prev, exists := rw.last[key]
	if exists && prev.Bid == bestBid && prev.Ask == bestAsk {
		rw.mu.Unlock()
		return
	}
	rw.last[key] = bookSnapshot{Bid: bestBid, Ask: bestAsk}
	rw.mu.Unlock()

	ts := strconv.FormatInt(update.Timestamp.UnixMilli(), 10)
	if err := rw.client.HSet(ctx, key, "bid", bestBid, "ask", bestAsk, "ts", ts); err != nil {
		// Forget the snapshot so the next update retries the write.
		rw.mu.Lock()
		delete(rw.last, key)
		rw.mu.Unlock()
		rw.log.Warn("redis: hset failed", zap.String("key", key), zap.Error(err))
	}
}

// bestPrice returns the best (highest bid or lowest ask) price as a string.
// For bids, "best" is the highest price; for asks, the lowest.
func bestPrice(levels []PriceLevel, isBid bool) string {
	if len(levels) == 0 {
		return "0"
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if isBid && l.Price > best {
			best = l.Price
		}
		if !isBid && l.Price < best {
			best = l.Price
		}
	}
	return strconv.FormatFloat(best, 'f', -1, 64)
}
