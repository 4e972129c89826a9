package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindFrame is a per-frame classification or detection failure; the frame is skipped.
	KindFrame
	// KindCapture is a capture facility open/read failure; fatal to the running session.
	KindCapture
	// KindTransport is a subscriber send/receive failure; isolates that subscriber.
	KindTransport
	// KindControl is a malformed control message; ignored.
	KindControl
	// KindHandshake is an unparseable initial payload; terminates that connection.
	KindHandshake
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindCapture:
		return "capture"
	case KindTransport:
		return "transport"
	case KindControl:
		return "control"
	case KindHandshake:
		return "handshake"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an Error of the specified kind. A nil err stays nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// GetKind returns the Kind of the outermost *Error in the chain, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}
