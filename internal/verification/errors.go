package verification

import "errors"

// Kind classifies a failed operation for callers.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindAlreadyExists      Kind = "AlreadyExists"
	KindNotFound           Kind = "NotFound"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindNoChallenge        Kind = "NoChallengeOutstanding"
	KindExpired            Kind = "Expired"
	KindInvalidCode        Kind = "InvalidCode"
	KindDelivery           Kind = "DeliveryError"
	KindInternal           Kind = "InternalError"
)

// Error is an expected, typed failure of a verification operation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so callers can compare against the
// package sentinels regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists, Message: "an account with this email or phone number already exists"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "no pending registration for this identity"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrNoChallenge        = &Error{Kind: KindNoChallenge, Message: "no verification code has been requested"}
	ErrExpired            = &Error{Kind: KindExpired, Message: "verification code has expired"}
	ErrInvalidCode        = &Error{Kind: KindInvalidCode, Message: "invalid verification code"}
)

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf returns the Kind carried by err, or KindInternal for anything that is
// not a verification Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
