package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// Client is a typed wrapper over the bridge service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a gateway listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// SignRequest returns the signed wire request for req.
func (c *Client) SignRequest(ctx context.Context, req adapter.OperationRequest) (*adapter.WireRequest, error) {
	m, err := c.invoke(ctx, "SignRequest", encodeOperation(req))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	for k, v := range strMap(m, fieldHeaders) {
		for _, part := range strings.Split(v, ",") {
			header.Add(k, part)
		}
	}
	return &adapter.WireRequest{
		Method: str(m, fieldMethod),
		Target: str(m, fieldTarget),
		Body:   str(m, fieldBody),
		Header: header,
	}, nil
}

// Execute submits req and returns the raw order document.
func (c *Client) Execute(ctx context.Context, req adapter.OperationRequest) (map[string]any, error) {
	return c.invoke(ctx, "Execute", encodeOperation(req))
}

// TranslateSubscription returns the stream frame for sub.
func (c *Client) TranslateSubscription(ctx context.Context, sub adapter.Subscription, symbolID string) (string, error) {
	m, err := c.invoke(ctx, "TranslateSubscription", map[string]any{
		fieldExchange:      string(sub.Exchange),
		fieldInstrumentID:  sub.InstrumentID,
		fieldField:         sub.Field,
		fieldOptions:       anyMap(sub.Options),
		fieldCorrelationID: sub.CorrelationID,
		fieldSymbolID:      symbolID,
	})
	if err != nil {
		return "", err
	}
	return str(m, fieldFrame), nil
}

// ParseMessage returns the normalized event documents for raw.
func (c *Client) ParseMessage(ctx context.Context, exchange adapter.Exchange, raw string) ([]any, error) {
	m, err := c.invoke(ctx, "ParseMessage", map[string]any{
		fieldExchange: string(exchange),
		fieldRaw:      raw,
	})
	if err != nil {
		return nil, err
	}
	events, _ := m[fieldEvents].([]any)
	return events, nil
}

// GetSessionStatus returns the session status document.
func (c *Client) GetSessionStatus(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, "GetSessionStatus", map[string]any{})
}
