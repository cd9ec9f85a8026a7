package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

var (
	ErrNoActiveSession       = errors.New("no active session")
	ErrSessionExpired        = errors.New("session expired")
	ErrNotionalLimitExceeded = errors.New("cumulative notional limit exceeded")
)

// SessionManager holds one account's CredentialSet in locked memory with
// TTL and cumulative notional enforcement. The credentials are encrypted at
// rest in a memguard.Enclave and only opened for the duration of a call.
type SessionManager struct {
	mu           sync.RWMutex
	enclave      *memguard.Enclave // JSON-encoded CredentialSet
	account      string
	expiresAt    time.Time
	maxNotional  decimal.Decimal
	notionalUsed decimal.Decimal
	ttl          time.Duration

	nowFunc func() time.Time
}

// Status is a read-only snapshot of the session. Monetary values are
// decimal strings.
type Status struct {
	Active       bool   `json:"active"`
	Account      string `json:"account"`
	TTLSeconds   int64  `json:"ttl_seconds"`
	MaxNotional  string `json:"max_notional"`
	NotionalUsed string `json:"notional_used"`
}

// NewSessionManager creates a manager with the given session TTL.
// No session is active until Activate is called.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Activate seals creds into an Enclave, sets expiry, and resets the
// notional counter. A zero maxNotional disables the limit.
func (sm *SessionManager) Activate(account string, creds adapter.CredentialSet, maxNotional decimal.Decimal) error {
	if len(creds) == 0 {
		return fmt.Errorf("vault: empty credential set for %s", account)
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: encode credentials: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// NewEnclave wipes raw.
	sm.enclave = memguard.NewEnclave(raw)
	sm.account = account
	sm.expiresAt = sm.nowFunc().Add(sm.ttl)
	sm.maxNotional = maxNotional
	sm.notionalUsed = decimal.Zero
	return nil
}

// WithCredentials opens the enclave, passes the decoded set to fn, and
// discards the plaintext afterwards. fn must not retain the set.
func (sm *SessionManager) WithCredentials(fn func(adapter.CredentialSet) error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.withCredentialsLocked(fn)
}

// SignRequest translates req with pa using the session credentials. For a
// limit CREATE_ORDER the order notional (QUANTITY x PRICE) is charged
// against the session limit, and only after translation succeeds. Other
// order types carry no notional and are not charged.
func (sm *SessionManager) SignRequest(pa adapter.ProtocolAdapter, req adapter.OperationRequest, symbolID string, now time.Time) (*adapter.WireRequest, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	notional := orderNotional(req)
	newTotal := sm.notionalUsed.Add(notional)
	if sm.enclave != nil && !sm.maxNotional.IsZero() && newTotal.GreaterThan(sm.maxNotional) {
		return nil, fmt.Errorf("%w: %s + %s > %s", ErrNotionalLimitExceeded,
			sm.notionalUsed, notional, sm.maxNotional)
	}

	var wire *adapter.WireRequest
	err := sm.withCredentialsLocked(func(creds adapter.CredentialSet) error {
		var err error
		wire, err = pa.TranslateRequest(req, symbolID, now, creds)
		return err
	})
	if err != nil {
		return nil, err
	}

	sm.notionalUsed = newTotal
	return wire, nil
}

// Status returns a snapshot of the current session state.
func (sm *SessionManager) Status() Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.enclave == nil || sm.isExpired() {
		return Status{MaxNotional: "0", NotionalUsed: "0"}
	}

	remaining := sm.expiresAt.Sub(sm.nowFunc()).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Active:       true,
		Account:      sm.account,
		TTLSeconds:   int64(remaining),
		MaxNotional:  sm.maxNotional.String(),
		NotionalUsed: sm.notionalUsed.String(),
	}
}

// Destroy drops the enclave and resets all session state.
func (sm *SessionManager) Destroy() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.destroyLocked()
}

// withCredentialsLocked does the work of WithCredentials. Caller must hold
// sm.mu.
func (sm *SessionManager) withCredentialsLocked(fn func(adapter.CredentialSet) error) error {
	if sm.enclave == nil {
		return ErrNoActiveSession
	}
	if sm.isExpired() {
		sm.destroyLocked()
		return ErrSessionExpired
	}

	buf, err := sm.enclave.Open()
	if err != nil {
		return fmt.Errorf("vault: open enclave: %w", err)
	}
	var creds adapter.CredentialSet
	err = json.Unmarshal(buf.Bytes(), &creds)
	buf.Destroy()
	if err != nil {
		return fmt.Errorf("vault: decode credentials: %w", err)
	}

	err = fn(creds)
	clear(creds)
	return err
}

// destroyLocked performs the actual cleanup. Caller must hold sm.mu.
func (sm *SessionManager) destroyLocked() {
	sm.enclave = nil
	sm.account = ""
	sm.maxNotional = decimal.Zero
	sm.notionalUsed = decimal.Zero
}

// isExpired checks whether the session TTL has elapsed. Caller must hold sm.mu.
func (sm *SessionManager) isExpired() bool {
	return sm.nowFunc().After(sm.expiresAt)
}

func orderNotional(req adapter.OperationRequest) decimal.Decimal {
	if req.Operation != adapter.OpCreateOrder {
		return decimal.Zero
	}
	if ordType, _ := req.Param(adapter.ParamOrderType); ordType != "limit" {
		return decimal.Zero
	}
	qtyRaw, _ := req.Param(adapter.ParamQuantity)
	pxRaw, ok := req.Param(adapter.ParamPrice)
	if !ok {
		return decimal.Zero
	}
	qty, err1 := decimal.NewFromString(qtyRaw)
	px, err2 := decimal.NewFromString(pxRaw)
	if err1 != nil || err2 != nil {
		return decimal.Zero
	}
	return qty.Mul(px).Abs()
}
