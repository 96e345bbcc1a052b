// ABOUTME: Authentication outcome shared by every mechanism
// ABOUTME: Carries the verdict plus an internal message that is only disclosed on request

package auth

// GenericFailure is shown to clients when detailed messages are not disclosed.
const GenericFailure = "Authentication failed."

// Result is the outcome of a single authentication attempt. Authenticators
// return a Result for every client-input problem instead of an error.
type Result struct {
	Authenticated bool
	Message       string
}

// Success returns an authenticated Result.
func Success() Result {
	return Result{Authenticated: true}
}

// Failure returns a failed Result carrying the internal message.
func Failure(message string) Result {
	return Result{Message: message}
}

// ClientMessage returns the message that may be sent to the client. The
// internal message is only returned when disclose is set.
func (r Result) ClientMessage(disclose bool) string {
	if r.Authenticated {
		return ""
	}
	if disclose && r.Message != "" {
		return r.Message
	}
	return GenericFailure
}
