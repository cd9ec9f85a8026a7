// Package httpapi exposes order entry and stream subscriptions over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/engine"
	"github.com/caesar-terminal/bridge/internal/vault"
)

// Response is the envelope for every reply.
type Response struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs order requests. Satisfied by *engine.Executor.
type Executor interface {
	Execute(ctx context.Context, req adapter.OperationRequest) (*engine.Order, error)
}

// Subscriber manages stream subscriptions for one exchange. Satisfied by
// *adapter.Stream.
type Subscriber interface {
	Subscribe(sub adapter.Subscription, symbolID string) (string, error)
	Unsubscribe(correlationID string) error
	Subscriptions() []string
}

// StatusSource reports the credential session. Satisfied by
// *vault.SessionManager.
type StatusSource interface {
	Status() vault.Status
}

// Deps are the collaborators the router dispatches to. A nil Executor or
// Session makes the matching routes answer 503; exchanges missing from
// Streams answer 404.
type Deps struct {
	Registry *adapter.Registry
	Executor Executor
	Streams  map[adapter.Exchange]Subscriber
	Session  StatusSource
	Logger   *zap.Logger
}

type orderRequest struct {
	Operation     string            `json:"operation" binding:"required"`
	SymbolID      string            `json:"symbol_id"`
	Params        map[string]string `json:"params"`
	CorrelationID string            `json:"correlation_id"`
}

type subscriptionRequest struct {
	InstrumentID  string            `json:"instrument_id" binding:"required"`
	Field         string            `json:"field" binding:"required"`
	SymbolID      string            `json:"symbol_id"`
	Options       map[string]string `json:"options"`
	CorrelationID string            `json:"correlation_id"`
}

type orderView struct {
	CorrelationID string     `json:"correlation_id"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	Event         *eventView `json:"event,omitempty"`
}

// eventView is the JSON shape of an adapter.Event, matching the keys the
// gateway socket uses.
type eventView struct {
	Type     string        `json:"type"`
	Exchange string        `json:"exchange"`
	Messages []messageView `json:"messages"`
}

type messageView struct {
	Type           string            `json:"type"`
	InstrumentID   string            `json:"instrument_id"`
	Channel        string            `json:"channel"`
	Time           time.Time         `json:"time"`
	TimeReceived   time.Time         `json:"time_received"`
	CorrelationIDs []string          `json:"correlation_ids"`
	Snapshot       bool              `json:"snapshot"`
	Elements       []adapter.Element `json:"elements"`
	Error          string            `json:"error,omitempty"`
}

func newEventView(ev adapter.Event) *eventView {
	view := &eventView{
		Type:     string(ev.Type),
		Exchange: string(ev.Exchange),
		Messages: make([]messageView, 0, len(ev.Messages)),
	}
	for _, msg := range ev.Messages {
		mv := messageView{
			Type:           string(msg.Type),
			InstrumentID:   msg.InstrumentID,
			Channel:        msg.Channel,
			Time:           msg.Time,
			TimeReceived:   msg.TimeReceived,
			CorrelationIDs: msg.CorrelationIDs,
			Snapshot:       msg.Snapshot,
			Elements:       msg.Elements,
		}
		if msg.Err != nil {
			mv.Error = msg.Err.Error()
		}
		view.Messages = append(view.Messages, mv)
	}
	return view
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handlers{d: d}

	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog)

	router.GET("/healthz", h.health)
	router.GET("/v1/session", h.session)

	v1 := router.Group("/v1/:exchange")
	v1.POST("/orders", h.createOrder)
	v1.GET("/subscriptions", h.listSubscriptions)
	v1.POST("/subscriptions", h.subscribe)
	v1.DELETE("/subscriptions/:id", h.unsubscribe)

	return router
}

type handlers struct {
	d Deps
}

func (h *handlers) accessLog(ctx *gin.Context) {
	ctx.Next()
	h.d.Logger.Debug("httpapi: request",
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.FullPath()),
		zap.Int("status", ctx.Writer.Status()),
	)
}

func (h *handlers) health(ctx *gin.Context) {
	var exchanges []adapter.Exchange
	if h.d.Registry != nil {
		exchanges = h.d.Registry.Exchanges()
	}
	ok(ctx, http.StatusOK, gin.H{"exchanges": exchanges})
}

func (h *handlers) session(ctx *gin.Context) {
	if h.d.Session == nil {
		fail(ctx, http.StatusServiceUnavailable, errors.New("no credential session configured"))
		return
	}
	ok(ctx, http.StatusOK, h.d.Session.Status())
}

func (h *handlers) createOrder(ctx *gin.Context) {
	if h.d.Executor == nil {
		fail(ctx, http.StatusServiceUnavailable, errors.New("order entry is not enabled"))
		return
	}

	var req orderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}

	order, err := h.d.Executor.Execute(ctx.Request.Context(), adapter.OperationRequest{
		Operation:     adapter.Operation(req.Operation),
		Exchange:      adapter.Exchange(ctx.Param("exchange")),
		SymbolID:      req.SymbolID,
		Params:        req.Params,
		CorrelationID: req.CorrelationID,
	})
	if order == nil {
		fail(ctx, statusFor(err), err)
		return
	}

	view := orderView{CorrelationID: order.CorrelationID, Status: order.Status.String()}
	if order.Err != nil {
		view.Error = order.Err.Error()
	}
	if order.Event.Type != "" {
		view.Event = newEventView(order.Event)
	}

	if err != nil {
		ctx.JSON(statusFor(err), Response{
			Code:    statusFor(err),
			Message: http.StatusText(statusFor(err)),
			Data:    view,
			Error:   err.Error(),
		})
		return
	}
	ok(ctx, http.StatusOK, view)
}

func (h *handlers) listSubscriptions(ctx *gin.Context) {
	s, found := h.stream(ctx)
	if !found {
		return
	}
	ok(ctx, http.StatusOK, gin.H{"subscriptions": s.Subscriptions()})
}

func (h *handlers) subscribe(ctx *gin.Context) {
	s, found := h.stream(ctx)
	if !found {
		return
	}

	var req subscriptionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}

	id, err := s.Subscribe(adapter.Subscription{
		Exchange:      adapter.Exchange(ctx.Param("exchange")),
		InstrumentID:  req.InstrumentID,
		Field:         req.Field,
		Options:       req.Options,
		CorrelationID: req.CorrelationID,
	}, req.SymbolID)
	if err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, http.StatusCreated, gin.H{"correlation_id": id})
}

func (h *handlers) unsubscribe(ctx *gin.Context) {
	s, found := h.stream(ctx)
	if !found {
		return
	}
	if err := s.Unsubscribe(ctx.Param("id")); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, http.StatusOK, nil)
}

func (h *handlers) stream(ctx *gin.Context) (Subscriber, bool) {
	ex := adapter.Exchange(ctx.Param("exchange"))
	s, found := h.d.Streams[ex]
	if !found {
		fail(ctx, http.StatusNotFound, errors.New("no stream for exchange "+string(ex)))
	}
	return s, found
}

func ok(ctx *gin.Context, code int, data any) {
	ctx.JSON(code, Response{
		Success: true,
		Code:    code,
		Message: http.StatusText(code),
		Data:    data,
	})
}

func fail(ctx *gin.Context, code int, err error) {
	ctx.JSON(code, Response{
		Code:    code,
		Message: http.StatusText(code),
		Error:   err.Error(),
	})
}

// statusFor maps domain sentinel errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, adapter.ErrUnknownExchange),
		errors.Is(err, adapter.ErrUnknownSubscription):
		return http.StatusNotFound
	case errors.Is(err, adapter.ErrValidation),
		errors.Is(err, engine.ErrQuantityTooLow),
		errors.Is(err, engine.ErrOrderTooLarge),
		errors.Is(err, engine.ErrPriceBand):
		return http.StatusBadRequest
	case errors.Is(err, adapter.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, adapter.ErrTradingHalted),
		errors.Is(err, adapter.ErrDuplicateSubscription),
		errors.Is(err, adapter.ErrSigning),
		errors.Is(err, engine.ErrNoQuote),
		errors.Is(err, vault.ErrNoActiveSession),
		errors.Is(err, vault.ErrSessionExpired):
		return http.StatusConflict
	case errors.Is(err, vault.ErrNotionalLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrExchangeRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
