// Package wire is the JSON envelope spoken on the relay socket, shared by
// the relay and its clients.
package wire

import (
	"encoding/json"

	"github.com/dkeye/Classroom/internal/domain"
)

// Control frame types handled by the relay itself.
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
	TypeWelcome = "welcome"
)

// Error codes carried in the data of an error frame.
const (
	CodeBadPayload  = "bad_payload"
	CodeRateLimited = "rate_limited"
	CodeUnreachable = "unreachable"
)

// Frame is relayed between clients. From and ID are stamped by the relay;
// Data is passed through untouched.
type Frame struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	To   domain.UserID   `json:"to,omitempty"`
	From domain.UserID   `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsControl reports whether t is answered by the relay rather than relayed.
func IsControl(t string) bool {
	switch t {
	case TypePing, TypePong, TypeError, TypeWelcome:
		return true
	}
	return false
}

type errorData struct {
	Error string `json:"error"`
}

// ErrorFrame builds the frame the relay returns to a sender that hit code.
func ErrorFrame(to domain.UserID, code string) Frame {
	b, _ := json.Marshal(errorData{Error: code})
	return Frame{Type: TypeError, To: to, Data: b}
}

// ErrorCode extracts the code of an error frame, or "" for other frames.
func ErrorCode(f Frame) string {
	if f.Type != TypeError || len(f.Data) == 0 {
		return ""
	}
	var e errorData
	if err := json.Unmarshal(f.Data, &e); err != nil {
		return ""
	}
	return e.Error
}
