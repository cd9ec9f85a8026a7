package okx

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// REST targets and stream paths for the v5 API.
const (
	CreateOrderTarget       = "/api/v5/trade/order"
	CancelOrderTarget       = "/api/v5/trade/cancel-order"
	CancelBatchOrdersTarget = "/api/v5/trade/cancel-batch-orders"
	OpenOrdersTarget        = "/api/v5/trade/orders-pending"

	PrivateStreamPath = "/ws/v5/private"
	PublicStreamPath  = "/ws/v5/public"
)

// Default credential field names looked up in an adapter.CredentialSet.
const (
	DefaultAPIKeyName           = "OKX_API_KEY"
	DefaultAPISecretName        = "OKX_API_SECRET"
	DefaultAPIPassphraseName    = "OKX_API_PASSPHRASE"
	DefaultSimulatedTradingName = "OKX_API_X_SIMULATED_TRADING"
)

// Config is the static, per-instance configuration of an Adapter. It must
// not be changed after New.
type Config struct {
	CreateOrderTarget       string
	CancelOrderTarget       string
	CancelBatchOrdersTarget string
	OpenOrdersTarget        string

	APIKeyName           string
	APISecretName        string
	APIPassphraseName    string
	SimulatedTradingName string

	// InstrumentType is used for the private orders channel and the
	// open-orders query when the caller does not name one.
	InstrumentType string
}

// DefaultConfig returns the production endpoint table and credential names.
func DefaultConfig() Config {
	return Config{
		CreateOrderTarget:       CreateOrderTarget,
		CancelOrderTarget:       CancelOrderTarget,
		CancelBatchOrdersTarget: CancelBatchOrdersTarget,
		OpenOrdersTarget:        OpenOrdersTarget,
		APIKeyName:              DefaultAPIKeyName,
		APISecretName:           DefaultAPISecretName,
		APIPassphraseName:       DefaultAPIPassphraseName,
		SimulatedTradingName:    DefaultSimulatedTradingName,
		InstrumentType:          "SPOT",
	}
}

// Adapter translates generic operations into OKX v5 wire requests and
// parses OKX payloads into normalized events. It holds no mutable state and
// is safe for concurrent use.
type Adapter struct {
	cfg    Config
	signer *Signer
	base   adapter.BaseTranslator
	log    *zap.Logger
}

var _ adapter.ProtocolAdapter = (*Adapter)(nil)

// New creates an Adapter. A nil base reports unspecialised operations as
// unsupported; a nil logger discards diagnostics.
func New(cfg Config, base adapter.BaseTranslator, logger *zap.Logger) *Adapter {
	if base == nil {
		base = adapter.UnsupportedTranslator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		signer: NewSigner(cfg),
		base:   base,
		log:    logger.With(zap.String("exchange", string(adapter.ExchangeOKX))),
	}
}

// Exchange implements adapter.ProtocolAdapter.
func (a *Adapter) Exchange() adapter.Exchange { return adapter.ExchangeOKX }

// Signer returns the signer bound to this adapter's credential names.
func (a *Adapter) Signer() *Signer { return a.signer }

// encode marshals v compactly, in struct field order, without HTML escaping
// and without the encoder's trailing newline. The result is what gets signed.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
