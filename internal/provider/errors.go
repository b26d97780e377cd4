package provider

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindUnsupported
	KindRateLimited
	KindPinLockout
	KindAuth
	KindSessionExpired
	KindRemoteControl
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnsupported:
		return "unsupported"
	case KindRateLimited:
		return "rate_limited"
	case KindPinLockout:
		return "pin_lockout"
	case KindAuth:
		return "auth"
	case KindSessionExpired:
		return "session_expired"
	case KindRemoteControl:
		return "remote_control"
	case KindAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Error is returned by sources for every failure they can classify.
type Error struct {
	Kind     Kind
	Code     string
	Endpoint string
	Message  string
	Err      error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrTransport      = &Error{Kind: KindTransport}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrPinLockout     = &Error{Kind: KindPinLockout}
	ErrAuth           = &Error{Kind: KindAuth}
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
	ErrRemoteControl  = &Error{Kind: KindRemoteControl}
	ErrAPI            = &Error{Kind: KindAPI}
)

// NewError builds an *Error of kind k.
func NewError(k Kind, endpoint, code, msg string) *Error {
	return &Error{Kind: k, Endpoint: endpoint, Code: code, Message: msg}
}

// Wrap classifies a foreign error as kind k.
func Wrap(k Kind, endpoint string, err error) *Error {
	return &Error{Kind: k, Endpoint: endpoint, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	switch {
	case e.Endpoint != "" && e.Code != "":
		return fmt.Sprintf("%s (code %s, endpoint %s)", msg, e.Code, e.Endpoint)
	case e.Endpoint != "":
		return fmt.Sprintf("%s (endpoint %s)", msg, e.Endpoint)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", msg, e.Code)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == "" && t.Endpoint == "" && t.Message == ""
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Details returns the code and endpoint of the first *Error in err's chain.
func Details(err error) (code, endpoint string) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, pe.Endpoint
	}
	return "", ""
}
