package accounts

import (
	"errors"
	"fmt"
)

// ErrUserNotFound indicates a username lookup returned no exact match.
//
// This is an expected condition callers are supposed to handle, typically
// by reporting "no such user". Test with errors.Is.
var ErrUserNotFound = errors.New("user not found")

// UserNotFoundError carries the username that could not be resolved.
type UserNotFoundError struct {
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.Username)
}

func (e *UserNotFoundError) Unwrap() error {
	return ErrUserNotFound
}

// ExchangeError indicates an oauth token grant could not be completed.
//
// It covers network failures, provider rejections and malformed token
// responses alike: in all cases no token was obtained, and the caller must
// not treat the login as successful.
type ExchangeError struct {
	// Grant is the oauth grant type that failed, for example
	// "authorization_code" or "client_credentials".
	Grant string
	Err   error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange (%s grant) failed: %v", e.Grant, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// RequestError indicates the accounts server answered an API call with a
// non-2xx status. It carries the status and body for the caller to inspect.
type RequestError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func errMissing(field string) error {
	return fmt.Errorf("accounts credentials: %s is required", field)
}

// DeliveryError indicates a MessageSender could not deliver an already
// composed message. The payload itself is left intact by the failure.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
