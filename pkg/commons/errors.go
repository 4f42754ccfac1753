// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry decisions and HTTP mapping. Kinds are
// deliberately coarse: callers branch on the class of a failure, never on
// provider-specific detail.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindResourceExhausted Kind = "resource_exhausted"
	KindAcquireTimeout    Kind = "acquire_timeout"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamFatal     Kind = "upstream_fatal"
	KindPolicyRejected    Kind = "policy_rejected"
	KindShuttingDown      Kind = "shutting_down"
	KindInternal          Kind = "internal"
)

// kindError carries a Kind together with a human-readable message and an
// optional wrapped cause.
type kindError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.cause }

// NewError creates an error of the given kind.
func NewError(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// NewErrorf creates an error of the given kind with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an existing error, preserving the chain for
// errors.Is / errors.As.
func WrapError(kind Kind, msg string, cause error) error {
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// KindOf returns the Kind of err, walking the wrap chain. Errors without a
// kind are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error class is eligible for retry at a
// higher layer. Only transient upstream failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstreamTransient
}

// HTTPStatus maps an error kind to the REST status code exposed by the
// control surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindAcquireTimeout:
		return http.StatusServiceUnavailable
	case KindUpstreamTransient:
		return http.StatusBadGateway
	case KindUpstreamFatal:
		return http.StatusBadGateway
	case KindPolicyRejected:
		return http.StatusForbidden
	case KindShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
