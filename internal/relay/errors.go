package relay

import (
	"fmt"

	"coderoom/collab/internal/protocol"
)

// ProtocolError is a failure reported to the client as an error frame
// before the stream is closed.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) frame() protocol.Message {
	return protocol.Error(e.Code, e.Message)
}

func protocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}
