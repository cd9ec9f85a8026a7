package adapter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Tunnel is a private, authenticated stream session for a single account
// on a single exchange. Credentials never leave the Login closure.
type Tunnel struct {
	Account  string
	Exchange Exchange
	ws       *WSClient
	stream   *Stream
	cancel   context.CancelFunc
}

// Events returns the parsed events for this tunnel only.
func (t *Tunnel) Events() <-chan Event { return t.stream.Events() }

// Subscribe adds a private channel subscription; see Stream.Subscribe.
func (t *Tunnel) Subscribe(sub Subscription, symbolID string) (string, error) {
	return t.stream.Subscribe(sub, symbolID)
}

// Circuit exposes the connection state of the tunnel's socket.
func (t *Tunnel) Circuit() CircuitState { return t.ws.Circuit() }

// TunnelConfig holds the parameters needed to open a private tunnel.
type TunnelConfig struct {
	Account  string
	Exchange Exchange
	URL      string
	Adapter  ProtocolAdapter
	Login    LoginFunc
	Logger   *zap.Logger
}

// TunnelManager manages private stream sessions keyed by (Account,
// Exchange). Account A's events are never visible to account B.
type TunnelManager struct {
	mu      sync.Mutex
	tunnels map[tunnelKey]*Tunnel
}

type tunnelKey struct {
	Account  string
	Exchange Exchange
}

// NewTunnelManager creates a TunnelManager ready for use.
func NewTunnelManager() *TunnelManager {
	return &TunnelManager{
		tunnels: make(map[tunnelKey]*Tunnel),
	}
}

// Open creates a new private tunnel for the given account and exchange.
// If a tunnel already exists for this pair, it is closed first. The login
// frame is sent on every connect and subscriptions follow authorization.
func (tm *TunnelManager) Open(ctx context.Context, cfg TunnelConfig) (*Tunnel, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("tunnel: no adapter for %s", cfg.Exchange)
	}
	key := tunnelKey{Account: cfg.Account, Exchange: cfg.Exchange}

	tm.mu.Lock()
	if existing, ok := tm.tunnels[key]; ok {
		existing.close()
		delete(tm.tunnels, key)
	}
	tm.mu.Unlock()

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("account", cfg.Account))

	wsCfg := DefaultWSConfig(cfg.URL)
	wsCfg.Logger = logger
	ws := NewWSClient(wsCfg)

	stream := NewStream(cfg.Adapter, ws, logger)
	if cfg.Login != nil {
		stream.SetLogin(cfg.Login)
	}

	tunnelCtx, cancel := context.WithCancel(ctx)
	if err := ws.Connect(tunnelCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("tunnel: connect %s for account %s: %w", cfg.Exchange, cfg.Account, err)
	}
	go stream.Run(tunnelCtx)

	t := &Tunnel{
		Account:  cfg.Account,
		Exchange: cfg.Exchange,
		ws:       ws,
		stream:   stream,
		cancel:   cancel,
	}

	tm.mu.Lock()
	tm.tunnels[key] = t
	tm.mu.Unlock()

	return t, nil
}

// Close tears down the private tunnel for the given account and exchange.
func (tm *TunnelManager) Close(account string, exchange Exchange) {
	key := tunnelKey{Account: account, Exchange: exchange}

	tm.mu.Lock()
	t, ok := tm.tunnels[key]
	if ok {
		delete(tm.tunnels, key)
	}
	tm.mu.Unlock()

	if ok {
		t.close()
	}
}

// CloseAll tears down every active tunnel.
func (tm *TunnelManager) CloseAll() {
	tm.mu.Lock()
	tunnels := tm.tunnels
	tm.tunnels = make(map[tunnelKey]*Tunnel)
	tm.mu.Unlock()

	for _, t := range tunnels {
		t.close()
	}
}

// Get returns the active tunnel for the given account and exchange, or nil.
func (tm *TunnelManager) Get(account string, exchange Exchange) *Tunnel {
	key := tunnelKey{Account: account, Exchange: exchange}
	tm.mu.Lock()
	t := tm.tunnels[key]
	tm.mu.Unlock()
	return t
}

func (t *Tunnel) close() {
	t.cancel()
	t.ws.Close()
}
