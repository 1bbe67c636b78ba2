// Package errors maps failures from the license engine and its stores onto
// HTTP responses. Every error falls into one Kind; the Kind picks the status
// code and the license Reason picks the body.
package errors

import (
	"context"
	"errors"
	"net/http"

	"licsrv/internal/license"
	"licsrv/internal/store"
)

// Kind classifies an error by who has to act on it.
type Kind int

const (
	// KindInternal is anything unexpected.
	KindInternal Kind = iota
	// KindValidation is a malformed request; the caller must fix it.
	KindValidation
	// KindAuthorization is a missing or wrong admin secret.
	KindAuthorization
	// KindDomain is an expected license outcome such as an expired key.
	KindDomain
	// KindInfrastructure is a dependency that is down or too slow.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindDomain:
		return "domain"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "internal"
	}
}

// ErrInvalidBody is returned by handlers when the request body cannot be
// decoded.
var ErrInvalidBody = &license.Error{Reason: license.ReasonMissingFields, Detail: "request body is not valid JSON"}

// ErrUnsupportedMediaType is returned when a request body is not declared as
// JSON. It is a validation failure answered with 415.
var ErrUnsupportedMediaType = &license.Error{Reason: license.ReasonMissingFields, Detail: "Content-Type must be application/json"}

// Classify returns the Kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if reason, ok := license.ReasonOf(err); ok {
		switch {
		case reason == license.ReasonUnauthorized:
			return KindAuthorization
		case reason.IsValidation():
			return KindValidation
		case reason == license.ReasonServiceUnavailable:
			return KindInfrastructure
		default:
			return KindDomain
		}
	}
	switch {
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, license.ErrKeySpaceExhausted):
		return KindInfrastructure
	}
	return KindInternal
}

// HTTPStatus returns the status code for k. Domain outcomes are answered
// with 200 and a false discriminator in the body.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindDomain:
		return http.StatusOK
	case KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReasonFor returns the reason code and client message for err. Errors that
// carry no license reason are reported generically so internal details never
// reach the client.
func ReasonFor(err error) (license.Reason, string) {
	var le *license.Error
	if errors.As(err, &le) {
		return le.Reason, le.Message()
	}
	if Classify(err) == KindInfrastructure {
		return license.ReasonServiceUnavailable, license.ReasonServiceUnavailable.Message()
	}
	return license.ReasonInternal, license.ReasonInternal.Message()
}

// Describe bundles what a handler needs to answer err.
func Describe(err error) (status int, reason license.Reason, message string) {
	reason, message = ReasonFor(err)
	// license.Error matches by Reason, so compare the sentinel itself.
	var le *license.Error
	if errors.As(err, &le) && le == ErrUnsupportedMediaType {
		return http.StatusUnsupportedMediaType, reason, message
	}
	return HTTPStatus(Classify(err)), reason, message
}
