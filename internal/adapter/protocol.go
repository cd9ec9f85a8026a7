package adapter

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProtocolAdapter is the capability set every exchange adapter provides.
// Implementations must be safe for concurrent use and must not perform I/O.
type ProtocolAdapter interface {
	Exchange() Exchange
	TranslateRequest(req OperationRequest, symbolID string, now time.Time, creds CredentialSet) (*WireRequest, error)
	TranslateSubscription(sub Subscription, now time.Time, symbolID string) (string, error)
	ParseMessage(raw []byte, receivedAt time.Time) []Event
	ParseResponse(op Operation, status int, body []byte, receivedAt time.Time) Event
}

// Unsubscriber is implemented by adapters whose streams accept an explicit
// unsubscribe frame.
type Unsubscriber interface {
	UnsubscribeMessage(sub Subscription, symbolID string) (string, error)
}

// BaseTranslator handles operations an exchange adapter does not specialise.
type BaseTranslator interface {
	TranslateDefault(req OperationRequest, symbolID string, now time.Time, creds CredentialSet) (*WireRequest, error)
}

// UnsupportedTranslator is the BaseTranslator used when the host supplies
// none: every operation is reported as unsupported.
type UnsupportedTranslator struct{}

// TranslateDefault always fails with ErrUnsupportedOperation.
func (UnsupportedTranslator) TranslateDefault(req OperationRequest, _ string, _ time.Time, _ CredentialSet) (*WireRequest, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, req.Operation)
}

// Registry holds one ProtocolAdapter per exchange.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Exchange]ProtocolAdapter
}

// NewRegistry creates a Registry populated with the given adapters.
func NewRegistry(adapters ...ProtocolAdapter) *Registry {
	r := &Registry{adapters: make(map[Exchange]ProtocolAdapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Exchange().
func (r *Registry) Register(a ProtocolAdapter) {
	r.mu.Lock()
	r.adapters[a.Exchange()] = a
	r.mu.Unlock()
}

// Get returns the adapter for the exchange.
func (r *Registry) Get(exchange Exchange) (ProtocolAdapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	return a, nil
}

// Exchanges lists the registered exchanges in sorted order.
func (r *Registry) Exchanges() []Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Exchange, 0, len(r.adapters))
	for ex := range r.adapters {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
