package core

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_bus.go -package=mocks . MessageBus,Subscriber

import (
	"context"

	"github.com/dkeye/Classroom/internal/domain"
)

// Broadcast is the empty destination: every member of the group except the
// sender.
const Broadcast domain.UserID = ""

// Message is the unit the orchestrators exchange over the bus. From is
// stamped by the transport on receipt and ignored on send.
type Message struct {
	Type domain.MessageType `json:"type"`
	To   domain.UserID      `json:"to,omitempty"`
	From domain.UserID      `json:"from,omitempty"`
	Body domain.Body        `json:"data"`
}

// MessageBus delivers a message zero or more times, in any order. A nil
// error only means the transport accepted it.
type MessageBus interface {
	Send(ctx context.Context, msg Message) error
}

// Subscriber registers the single inbound handler. Handlers for one
// subscriber are called sequentially.
type Subscriber interface {
	Subscribe(handler func(Message))
}

// Bus is a transport that both sends and delivers.
type Bus interface {
	MessageBus
	Subscriber
}
