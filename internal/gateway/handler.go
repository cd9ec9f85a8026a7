package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/engine"
	"github.com/caesar-terminal/bridge/internal/vault"
)

// Handler implements BridgeServer on top of the adapter registry, the
// credential session, and an optional executor.
type Handler struct {
	registry *adapter.Registry
	session  *vault.SessionManager
	executor *engine.Executor
	log      *zap.Logger

	nowFunc func() time.Time
}

var _ BridgeServer = (*Handler)(nil)

// NewHandler creates a Handler. executor may be nil, in which case Execute
// reports Unimplemented.
func NewHandler(registry *adapter.Registry, session *vault.SessionManager, executor *engine.Executor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		session:  session,
		executor: executor,
		log:      logger,
		nowFunc:  time.Now,
	}
}

// SignRequest translates an operation into a signed wire request using the
// session credentials. Nothing is sent to the exchange.
func (h *Handler) SignRequest(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := decodeOperation(in)
	if req.Operation == "" {
		return nil, status.Errorf(codes.InvalidArgument, "operation is required")
	}
	pa, err := h.registry.Get(req.Exchange)
	if err != nil {
		return nil, toStatus(err)
	}

	wire, err := h.session.SignRequest(pa, req, req.SymbolID, h.nowFunc())
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(encodeWire(wire))
}

// Execute signs, submits, and parses one request. Exchange rejections are
// reported in the response body; only failures before or during
// submission are RPC errors.
func (h *Handler) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if h.executor == nil {
		return nil, status.Errorf(codes.Unimplemented, "execution is not enabled")
	}
	order, err := h.executor.Execute(ctx, decodeOperation(in))
	if err != nil && !errors.Is(err, engine.ErrExchangeRejected) {
		if order != nil && order.Status == engine.StatusFailed {
			return nil, status.Errorf(codes.Unavailable, "%v", err)
		}
		return nil, toStatus(err)
	}
	return structpb.NewStruct(encodeOrder(order))
}

// TranslateSubscription returns the stream frame for a subscription.
func (h *Handler) TranslateSubscription(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sub, symbolID := decodeSubscription(in)
	pa, err := h.registry.Get(sub.Exchange)
	if err != nil {
		return nil, toStatus(err)
	}
	frame, err := pa.TranslateSubscription(sub, h.nowFunc(), symbolID)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{fieldFrame: frame})
}

// ParseMessage normalizes one inbound stream payload. Malformed payloads
// come back as DIAGNOSTIC events, never as RPC errors.
func (h *Handler) ParseMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	pa, err := h.registry.Get(adapter.Exchange(str(m, fieldExchange)))
	if err != nil {
		return nil, toStatus(err)
	}

	events := pa.ParseMessage([]byte(str(m, fieldRaw)), h.nowFunc())
	out := make([]any, 0, len(events))
	for _, ev := range events {
		out = append(out, encodeEvent(ev))
	}
	return structpb.NewStruct(map[string]any{fieldEvents: out})
}

// GetSessionStatus returns the current credential session status.
func (h *Handler) GetSessionStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(encodeStatus(h.session.Status()))
}

// toStatus maps domain sentinel errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, adapter.ErrValidation),
		errors.Is(err, adapter.ErrUnknownExchange),
		errors.Is(err, adapter.ErrParse),
		errors.Is(err, engine.ErrQuantityTooLow),
		errors.Is(err, engine.ErrOrderTooLarge),
		errors.Is(err, engine.ErrPriceBand):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, adapter.ErrUnsupportedOperation):
		return status.Errorf(codes.Unimplemented, "%v", err)
	case errors.Is(err, vault.ErrNoActiveSession),
		errors.Is(err, vault.ErrSessionExpired),
		errors.Is(err, adapter.ErrSigning),
		errors.Is(err, adapter.ErrTradingHalted),
		errors.Is(err, engine.ErrNoQuote):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case errors.Is(err, vault.ErrNotionalLimitExceeded):
		return status.Errorf(codes.ResourceExhausted, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
