package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/rest"
)

// ErrExchangeRejected marks an order the exchange answered with an error.
var ErrExchangeRejected = errors.New("exchange rejected request")

// RequestSigner translates and signs a request with credentials it holds.
// Satisfied by *vault.SessionManager.
type RequestSigner interface {
	SignRequest(pa adapter.ProtocolAdapter, req adapter.OperationRequest, symbolID string, now time.Time) (*adapter.WireRequest, error)
}

// Transport sends a signed request. Satisfied by *rest.Client.
type Transport interface {
	Do(ctx context.Context, wire *adapter.WireRequest) (*rest.Response, error)
}

// Executor runs one request through preflight, signing, submission, and
// response parsing.
type Executor struct {
	registry  *adapter.Registry
	validator *Validator
	signer    RequestSigner
	transport Transport
	log       *zap.Logger

	nowFunc func() time.Time
}

// NewExecutor wires an Executor. A nil validator skips preflight checks.
func NewExecutor(registry *adapter.Registry, validator *Validator, signer RequestSigner, transport Transport, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:  registry,
		validator: validator,
		signer:    signer,
		transport: transport,
		log:       logger,
		nowFunc:   time.Now,
	}
}

// Execute processes req and returns its terminal Order. The returned error
// is also recorded in Order.Err; a response event is attached whenever the
// exchange answered, including on rejection.
func (e *Executor) Execute(ctx context.Context, req adapter.OperationRequest) (*Order, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	order := &Order{
		CorrelationID: req.CorrelationID,
		Request:       req,
		Status:        StatusNew,
		CreatedAt:     e.nowFunc(),
	}
	log := e.log.With(
		zap.String("correlation_id", req.CorrelationID),
		zap.String("exchange", string(req.Exchange)),
		zap.String("operation", string(req.Operation)),
	)

	pa, err := e.registry.Get(req.Exchange)
	if err != nil {
		return e.reject(order, log, err)
	}

	if e.validator != nil {
		if err := e.validator.Validate(req); err != nil {
			return e.reject(order, log, err)
		}
	}
	order.Status = StatusValidated

	wire, err := e.signer.SignRequest(pa, req, req.SymbolID, e.nowFunc())
	if err != nil {
		return e.reject(order, log, err)
	}
	order.Status = StatusSigned

	resp, err := e.transport.Do(ctx, wire)
	if err != nil {
		order.Status = StatusFailed
		order.Err = err
		log.Warn("engine: submission failed", zap.Error(err))
		return order, err
	}

	ev := pa.ParseResponse(req.Operation, resp.Status, resp.Body, resp.ReceivedAt)
	for i := range ev.Messages {
		ev.Messages[i].CorrelationIDs = append(ev.Messages[i].CorrelationIDs, req.CorrelationID)
	}
	order.Event = ev

	if msg, failed := firstError(ev); failed {
		err := fmt.Errorf("%w: %s", ErrExchangeRejected, describe(msg))
		return e.reject(order, log, err)
	}

	order.Status = StatusAccepted
	log.Info("engine: request accepted", zap.Int("status", resp.Status))
	return order, nil
}

func (e *Executor) reject(order *Order, log *zap.Logger, err error) (*Order, error) {
	order.Status = StatusRejected
	order.Err = err
	log.Info("engine: request rejected", zap.Error(err))
	return order, err
}

func firstError(ev adapter.Event) (adapter.Message, bool) {
	for _, msg := range ev.Messages {
		if msg.Type == adapter.MsgResponseError {
			return msg, true
		}
	}
	return adapter.Message{}, false
}

func describe(msg adapter.Message) string {
	if msg.Err != nil {
		return msg.Err.Error()
	}
	for _, el := range msg.Elements {
		if m := el[adapter.ElemErrorMessage]; m != "" {
			return fmt.Sprintf("code %s: %s", el[adapter.ElemCode], m)
		}
	}
	return "unknown error"
}
