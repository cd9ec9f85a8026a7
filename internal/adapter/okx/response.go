package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// rawResponse is the REST envelope: {"code":"0","msg":"","data":[...]}.
type rawResponse struct {
	Code string           `json:"code"`
	Msg  string           `json:"msg"`
	Data []map[string]any `json:"data"`
}

// responseFields maps REST data members to element names. Members not
// listed are dropped.
var responseFields = map[string]string{
	"ordId":     adapter.ElemOrderID,
	"clOrdId":   adapter.ElemClientOrderID,
	"sCode":     adapter.ElemCode,
	"sMsg":      adapter.ElemErrorMessage,
	"side":      adapter.ElemSide,
	"px":        adapter.ElemPrice,
	"sz":        adapter.ElemQuantity,
	"accFillSz": adapter.ElemFilledQty,
	"state":     adapter.ElemStatus,
}

// ParseResponse converts a REST response into a single RESPONSE event. A
// 2xx status with code "0" yields a message typed after op; anything else,
// including an unreadable body, yields RESPONSE_ERROR.
func (a *Adapter) ParseResponse(op adapter.Operation, status int, body []byte, receivedAt time.Time) adapter.Event {
	msg := adapter.Message{
		Type:         adapter.MessageType(op),
		TimeReceived: receivedAt,
	}

	var resp rawResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: %v", adapter.ErrParse, err)
		a.log.Warn("okx: unreadable response", zap.Int("status", status), zap.Error(err))
		msg.Type = adapter.MsgResponseError
		msg.Err = err
		msg.Elements = []adapter.Element{{
			adapter.ElemHTTPStatus:   strconv.Itoa(status),
			adapter.ElemErrorMessage: err.Error(),
			adapter.ElemRaw:          truncate(body),
		}}
		return responseEvent(msg)
	}

	if status < 200 || status > 299 || resp.Code != "0" {
		msg.Type = adapter.MsgResponseError
		msg.Elements = append(msg.Elements, adapter.Element{
			adapter.ElemHTTPStatus:   strconv.Itoa(status),
			adapter.ElemCode:         resp.Code,
			adapter.ElemErrorMessage: resp.Msg,
		})
	}

	for _, entry := range resp.Data {
		if id, ok := entry["instId"].(string); ok && msg.InstrumentID == "" {
			msg.InstrumentID = id
		}
		elem := adapter.Element{}
		for k, name := range responseFields {
			v, ok := entry[k]
			if !ok || v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				elem[name] = s
			} else {
				elem[name] = fmt.Sprint(v)
			}
		}
		msg.Elements = append(msg.Elements, elem)
	}

	return responseEvent(msg)
}

func responseEvent(msg adapter.Message) adapter.Event {
	return adapter.Event{
		Type:     adapter.EventResponse,
		Exchange: adapter.ExchangeOKX,
		Messages: []adapter.Message{msg},
	}
}
