package gateway

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/engine"
	"github.com/caesar-terminal/bridge/internal/vault"
)

// Wire field names shared by server and client.
const (
	fieldExchange      = "exchange"
	fieldOperation     = "operation"
	fieldSymbolID      = "symbol_id"
	fieldParams        = "params"
	fieldCorrelationID = "correlation_id"
	fieldInstrumentID  = "instrument_id"
	fieldField         = "field"
	fieldOptions       = "options"
	fieldFrame         = "frame"
	fieldRaw           = "raw"
	fieldEvents        = "events"
	fieldMethod        = "method"
	fieldTarget        = "target"
	fieldBody          = "body"
	fieldHeaders       = "headers"
	fieldStatus        = "status"
	fieldError         = "error"
	fieldEvent         = "event"
)

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// strMap reads a nested object of scalar values. Absent keys yield nil so
// "param not supplied" stays distinguishable from "param empty".
func strMap(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func anyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func decodeOperation(s *structpb.Struct) adapter.OperationRequest {
	m := s.AsMap()
	return adapter.OperationRequest{
		Operation:     adapter.Operation(str(m, fieldOperation)),
		Exchange:      adapter.Exchange(str(m, fieldExchange)),
		SymbolID:      str(m, fieldSymbolID),
		Params:        strMap(m, fieldParams),
		CorrelationID: str(m, fieldCorrelationID),
	}
}

func encodeOperation(req adapter.OperationRequest) map[string]any {
	return map[string]any{
		fieldOperation:     string(req.Operation),
		fieldExchange:      string(req.Exchange),
		fieldSymbolID:      req.SymbolID,
		fieldParams:        anyMap(req.Params),
		fieldCorrelationID: req.CorrelationID,
	}
}

func decodeSubscription(s *structpb.Struct) (adapter.Subscription, string) {
	m := s.AsMap()
	return adapter.Subscription{
		Exchange:      adapter.Exchange(str(m, fieldExchange)),
		InstrumentID:  str(m, fieldInstrumentID),
		Field:         str(m, fieldField),
		Options:       strMap(m, fieldOptions),
		CorrelationID: str(m, fieldCorrelationID),
	}, str(m, fieldSymbolID)
}

func encodeWire(w *adapter.WireRequest) map[string]any {
	headers := make(map[string]any, len(w.Header))
	for k, v := range w.Header {
		headers[k] = strings.Join(v, ",")
	}
	return map[string]any{
		fieldMethod:  w.Method,
		fieldTarget:  w.Target,
		fieldBody:    w.Body,
		fieldHeaders: headers,
	}
}

func encodeEvent(ev adapter.Event) map[string]any {
	msgs := make([]any, 0, len(ev.Messages))
	for _, msg := range ev.Messages {
		elems := make([]any, 0, len(msg.Elements))
		for _, el := range msg.Elements {
			elems = append(elems, anyMap(el))
		}
		ids := make([]any, 0, len(msg.CorrelationIDs))
		for _, id := range msg.CorrelationIDs {
			ids = append(ids, id)
		}
		m := map[string]any{
			"type":            string(msg.Type),
			"instrument_id":   msg.InstrumentID,
			"channel":         msg.Channel,
			"time":            formatTime(msg.Time),
			"time_received":   formatTime(msg.TimeReceived),
			"correlation_ids": ids,
			"snapshot":        msg.Snapshot,
			"elements":        elems,
		}
		if msg.Err != nil {
			m[fieldError] = msg.Err.Error()
		}
		msgs = append(msgs, m)
	}
	return map[string]any{
		"type":     string(ev.Type),
		"exchange": string(ev.Exchange),
		"messages": msgs,
	}
}

func encodeOrder(o *engine.Order) map[string]any {
	m := map[string]any{
		fieldCorrelationID: o.CorrelationID,
		fieldStatus:        o.Status.String(),
	}
	if o.Err != nil {
		m[fieldError] = o.Err.Error()
	}
	if o.Event.Type != "" {
		m[fieldEvent] = encodeEvent(o.Event)
	}
	return m
}

func encodeStatus(st vault.Status) map[string]any {
	return map[string]any{
		"active":        st.Active,
		"account":       st.Account,
		"ttl_seconds":   float64(st.TTLSeconds),
		"max_notional":  st.MaxNotional,
		"notional_used": st.NotionalUsed,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
