package protocol

// Close and error codes used by the broker. The ranges follow the Pusher
// protocol: 4000-4099 must not reconnect, 4100-4199 reconnect after backing
// off, 4200-4299 reconnect straight away.
const (
	CodeApplicationOnlyAcceptsSSL = 4000
	CodeApplicationDoesNotExist   = 4001
	CodeApplicationDisabled       = 4003
	CodeOverCapacity              = 4100
	CodeGenericReconnect          = 4200
	CodePongNotReceived           = 4201
	CodeClosedAfterInactivity     = 4202
	CodeClientEventRejected       = 4301
)

// ShouldReconnect reports whether a connection closed with code may retry.
func ShouldReconnect(code int) bool {
	return code < 4000 || code >= 4100
}

// ReconnectImmediately reports whether a retry may skip the backoff delay.
func ReconnectImmediately(code int) bool {
	return code >= 4200 && code < 4300
}
