package realtime

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures a session reports through its hooks.
type ErrorKind string

const (
	// ConfigurationError: a required transport parameter is missing.
	ConfigurationError ErrorKind = "configuration"
	// SubscriptionAuthError: the authorization endpoint or the broker
	// rejected a private channel subscription.
	SubscriptionAuthError ErrorKind = "subscription_auth"
	// TransportConnectionError: socket-level failure. Recovery belongs to
	// the transport's own reconnect loop.
	TransportConnectionError ErrorKind = "transport_connection"
)

// ErrInvalidUserID is returned synchronously for non-positive user ids.
var ErrInvalidUserID = errors.New("realtime: user id must be positive")

// Error carries a kind and the operation that observed it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("realtime %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a realtime *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == kind
}

type errMissingParameter string

func (e errMissingParameter) Error() string {
	return "missing required parameter " + string(e)
}
