package engine

import (
	"time"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// Status tracks the lifecycle of a request through the executor.
type Status uint8

const (
	StatusNew Status = iota + 1
	StatusValidated
	StatusSigned
	StatusAccepted
	StatusRejected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusValidated:
		return "validated"
	case StatusSigned:
		return "signed"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Order is one request's trip through the executor. Event is the
// normalized exchange reply and is only set once a response was received.
// Err is set when Status is StatusRejected or StatusFailed.
type Order struct {
	CorrelationID string
	Request       adapter.OperationRequest
	Status        Status
	Event         adapter.Event
	Err           error
	CreatedAt     time.Time
}

// Terminal reports whether the order has left the pipeline.
func (o *Order) Terminal() bool {
	return o.Status == StatusAccepted || o.Status == StatusRejected || o.Status == StatusFailed
}
