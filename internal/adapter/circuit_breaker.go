package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerConfig tunes the trading gate.
type CircuitBreakerConfig struct {
	// StaleThreshold is how long an instrument may go without a BookUpdate
	// before order entry on it is blocked.
	StaleThreshold time.Duration

	// CoolOff is how long an instrument must stay healthy after recovering
	// (from staleness or a dropped connection) before trading resumes.
	CoolOff time.Duration

	// PollInterval is how often the health sweep runs.
	PollInterval time.Duration
}

// DefaultCircuitBreakerConfig returns production-tuned defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		StaleThreshold: 5 * time.Second,
		CoolOff:        2 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// gateState is the health record for one (exchange, instrument).
type gateState struct {
	lastUpdate  time.Time
	recoveredAt time.Time
	healthy     bool
	reason      string // why the instrument is unhealthy
}

// CircuitBreaker gates order entry per instrument. An instrument can be
// traded only while its stream is connected, its book is fresh and any
// cool-off after a recovery has elapsed. ManualHalt blocks everything.
//
// Health is tracked from two sides: BookUpdates from the feed mark an
// instrument healthy, and a periodic sweep marks it unhealthy when its
// data goes stale or its connection drops. Every unhealthy-to-healthy
// transition starts a new cool-off.
type CircuitBreaker struct {
	cfg  CircuitBreakerConfig
	feed <-chan BookUpdate
	log  *zap.Logger

	connMu sync.RWMutex
	conns  map[Exchange]*WSClient

	mu     sync.RWMutex
	states map[instrumentKey]*gateState
	halted bool

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a breaker fed by a Broadcaster subscription.
// Connections are registered with WatchConnection. A nil logger discards
// transition logs.
func NewCircuitBreaker(cfg CircuitBreakerConfig, feed <-chan BookUpdate, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultCircuitBreakerConfig().PollInterval
	}
	return &CircuitBreaker{
		cfg:     cfg,
		feed:    feed,
		log:     logger,
		conns:   make(map[Exchange]*WSClient),
		states:  make(map[instrumentKey]*gateState),
		nowFunc: time.Now,
	}
}

// WatchConnection ties every instrument of exchange to the health of ws.
func (cb *CircuitBreaker) WatchConnection(exchange Exchange, ws *WSClient) {
	cb.connMu.Lock()
	cb.conns[exchange] = ws
	cb.connMu.Unlock()
}

// ManualHalt blocks all order entry until Resume.
func (cb *CircuitBreaker) ManualHalt() {
	cb.mu.Lock()
	cb.halted = true
	cb.mu.Unlock()
	cb.log.Warn("gate: manual halt")
}

// Resume clears a manual halt. Per-instrument checks still apply.
func (cb *CircuitBreaker) Resume() {
	cb.mu.Lock()
	cb.halted = false
	cb.mu.Unlock()
	cb.log.Info("gate: manual halt cleared")
}

// CanTrade reports whether Check passes.
func (cb *CircuitBreaker) CanTrade(exchange Exchange, instrumentID string) bool {
	return cb.Check(exchange, instrumentID) == nil
}

// Check returns nil when instrumentID on exchange may be traded. Otherwise
// the error wraps ErrTradingHalted and names the failing condition.
func (cb *CircuitBreaker) Check(exchange Exchange, instrumentID string) error {
	if ws := cb.conn(exchange); ws != nil && ws.Circuit() == CircuitOpen {
		return fmt.Errorf("%w: %s stream disconnected", ErrTradingHalted, exchange)
	}

	now := cb.nowFunc()

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.halted {
		return fmt.Errorf("%w: manual halt", ErrTradingHalted)
	}
	st, ok := cb.states[instrumentKey{Exchange: exchange, MarketID: instrumentID}]
	switch {
	case !ok:
		return fmt.Errorf("%w: no market data for %s", ErrTradingHalted, instrumentID)
	case now.Sub(st.lastUpdate) > cb.cfg.StaleThreshold:
		return fmt.Errorf("%w: stale market data for %s", ErrTradingHalted, instrumentID)
	case !st.healthy:
		return fmt.Errorf("%w: %s %s", ErrTradingHalted, instrumentID, st.reason)
	case now.Sub(st.recoveredAt) < cb.cfg.CoolOff:
		return fmt.Errorf("%w: %s cooling off", ErrTradingHalted, instrumentID)
	}
	return nil
}

// Run consumes the feed and sweeps instrument health every PollInterval
// until ctx is cancelled or the feed closes.
func (cb *CircuitBreaker) Run(ctx context.Context) {
	tick := time.NewTicker(cb.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			cb.sweep()
		case update, ok := <-cb.feed:
			if !ok {
				return
			}
			cb.record(update)
		}
	}
}

// MarkStale forces an instrument unhealthy; the next BookUpdate for it
// starts a cool-off.
func (cb *CircuitBreaker) MarkStale(exchange Exchange, instrumentID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if st, ok := cb.states[instrumentKey{Exchange: exchange, MarketID: instrumentID}]; ok {
		cb.markLocked(exchange, instrumentID, st, "marked stale")
	}
}

func (cb *CircuitBreaker) record(update BookUpdate) {
	key := instrumentKey{Exchange: update.Exchange, MarketID: update.MarketID}
	now := cb.nowFunc()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	st, ok := cb.states[key]
	if !ok {
		st = &gateState{}
		cb.states[key] = st
	}
	st.lastUpdate = now
	if st.healthy {
		return
	}
	st.healthy = true
	st.recoveredAt = now
	st.reason = ""
	cb.log.Info("gate: instrument recovered",
		zap.String("exchange", string(update.Exchange)),
		zap.String("instrument", update.MarketID),
		zap.Duration("cool_off", cb.cfg.CoolOff))
}

// sweep marks instruments unhealthy whose data went stale or whose
// connection is down.
func (cb *CircuitBreaker) sweep() {
	down := make(map[Exchange]bool)
	cb.connMu.RLock()
	for ex, ws := range cb.conns {
		down[ex] = ws.Circuit() == CircuitOpen
	}
	cb.connMu.RUnlock()

	now := cb.nowFunc()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	for key, st := range cb.states {
		if !st.healthy {
			continue
		}
		switch {
		case down[key.Exchange]:
			cb.markLocked(key.Exchange, key.MarketID, st, "disconnected")
		case now.Sub(st.lastUpdate) > cb.cfg.StaleThreshold:
			cb.markLocked(key.Exchange, key.MarketID, st, "stale")
		}
	}
}

// markLocked flips st to unhealthy. Caller must hold cb.mu.
func (cb *CircuitBreaker) markLocked(exchange Exchange, instrumentID string, st *gateState, reason string) {
	if !st.healthy {
		return
	}
	st.healthy = false
	st.reason = reason
	cb.log.Warn("gate: instrument halted",
		zap.String("exchange", string(exchange)),
		zap.String("instrument", instrumentID),
		zap.String("reason", reason))
}

func (cb *CircuitBreaker) conn(exchange Exchange) *WSClient {
	cb.connMu.RLock()
	defer cb.connMu.RUnlock()
	return cb.conns[exchange]
}
