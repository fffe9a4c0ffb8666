package toolserver

import "fmt"

// ErrKind distinguishes why a tool call failed. Callers treat connection and
// timeout failures as transient and protocol failures as provider errors
// worth surfacing verbatim.
type ErrKind int

const (
	KindConnection ErrKind = iota + 1
	KindTimeout
	KindProtocol
)

func (k ErrKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ToolError is the single error type surfaced by transports. Code carries
// the provider error code when the server replied with an error envelope.
type ToolError struct {
	Kind    ErrKind
	Message string
	Code    int
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool server %s error: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("tool server %s error: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func connectionErr(err error) *ToolError {
	return &ToolError{Kind: KindConnection, Message: "connection failed", Err: err}
}

func timeoutErr(err error) *ToolError {
	return &ToolError{Kind: KindTimeout, Message: "call timed out", Err: err}
}

func protocolErr(msg string, code int) *ToolError {
	return &ToolError{Kind: KindProtocol, Message: msg, Code: code}
}
