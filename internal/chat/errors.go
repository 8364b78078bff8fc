package chat

import "errors"

// ErrMissingToken is returned when a connection attempt carries no credential.
var ErrMissingToken = errors.New("missing credential token")

// ErrInvalidToken is returned when a credential token fails verification.
var ErrInvalidToken = errors.New("invalid credential token")

// ErrIdentityNotFound is returned when an identity lookup yields no results.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrGroupNotFound is returned when a referenced group id is malformed or
// the group record is absent.
var ErrGroupNotFound = errors.New("group not found")

// ErrMessageNotFound is returned when a referenced message is absent.
var ErrMessageNotFound = errors.New("message not found")

// ErrInvalidPayload is returned when a request payload is missing,
// malformed, or fails validation.
var ErrInvalidPayload = errors.New("invalid request payload")

// Kind maps an error to its wire-level kind string, used in tagged result
// envelopes so clients can tell a failed operation from an empty result.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return "authentication"
	case errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_request"
	default:
		return "store"
	}
}
