// Package tzerr defines the gateway's error taxonomy.
//
// Every error that can cross a component boundary is constructed here as a
// typed Error with a fixed Kind. Callers never discard the Kind: higher
// layers rewrap with additional context via fmt.Errorf("...: %w", err) but
// must not re-log, since New logs once at the originating site.
package tzerr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind classifies an Error into the fixed taxonomy described in the design.
type Kind string

const (
	KindInputValidation           Kind = "input_validation"
	KindJSONSchemaValidation      Kind = "json_schema_validation"
	KindInvalidRequest            Kind = "invalid_request"
	KindInvalidMessage            Kind = "invalid_message"
	KindUnknownFunction           Kind = "unknown_function"
	KindUnknownVariant            Kind = "unknown_variant"
	KindUnknownMetric             Kind = "unknown_metric"
	KindInferenceNotFound         Kind = "inference_not_found"
	KindBatchNotFound             Kind = "batch_not_found"
	KindRateLimitExceeded         Kind = "rate_limit_exceeded"
	KindInferenceClient           Kind = "inference_client"
	KindInferenceServer           Kind = "inference_server"
	KindInferenceTimeout          Kind = "inference_timeout"
	KindModelProvidersExhausted   Kind = "model_providers_exhausted"
	KindAllVariantsFailed         Kind = "all_variants_failed"
	KindNoFallbackVariants        Kind = "no_fallback_variants_remaining"
	KindObjectStoreWrite          Kind = "object_store_write"
	KindOLAPQuery                 Kind = "olap_query"
	KindCache                     Kind = "cache"
	KindChannelWrite              Kind = "channel_write"
	KindConfig                    Kind = "config"
	KindInvalidProviderConfig     Kind = "invalid_provider_config"
	KindInternal                  Kind = "internal_error"
	KindOutputParsing             Kind = "output_parsing"
	KindOutputValidation          Kind = "output_validation"
	KindToolNotFound              Kind = "tool_not_found"
	KindExtraBodyReplacement      Kind = "extra_body_replacement"
	KindMiniJinjaTemplateMissing  Kind = "template_missing"
	KindInvalidTensorzeroUUID     Kind = "invalid_tensorzero_uuid"
	KindUnsupportedBatchInference Kind = "unsupported_model_provider_for_batch_inference"
	KindAPIKeyMissing             Kind = "api_key_missing"
	KindOptimizationJobNotFound   Kind = "optimization_job_not_found"
	KindUnsupportedOptimizer      Kind = "unsupported_optimizer"
)

// Severity determines the log level used when an Error is constructed.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Error is the sum type used across every component boundary in the gateway.
// The zero value is not usable; construct via New.
type Error struct {
	kind     Kind
	message  string
	severity Severity
	cause    error
	fields   map[string]any
}

// New constructs and logs an Error at its originating site.
func New(kind Kind, message string, cause error, fields map[string]any) *Error {
	e := &Error{
		kind:     kind,
		message:  message,
		severity: severityFor(kind),
		cause:    cause,
		fields:   fields,
	}
	e.log()
	return e
}

// NewWithoutLogging constructs an Error without emitting a log record. Use
// this only when the caller will immediately wrap and log the result through
// a different originating site (for example, when translating a third-party
// error into an Error right before returning it, and the caller up the stack
// owns the log line).
func NewWithoutLogging(kind Kind, message string, cause error, fields map[string]any) *Error {
	return &Error{kind: kind, message: message, severity: severityFor(kind), cause: cause, fields: fields}
}

func (e *Error) log() {
	attrs := make([]any, 0, len(e.fields)*2+2)
	attrs = append(attrs, slog.String("kind", string(e.kind)))
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch e.severity {
	case SeverityWarn:
		slog.Warn(e.message, attrs...)
	default:
		slog.Error(e.message, attrs...)
	}
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Fields returns the structured context attached to the error, e.g. the
// provider_errors map for ModelProvidersExhausted or the failed_rate_limits
// list for RateLimitExceeded. Callers must not mutate the returned map.
func (e *Error) Fields() map[string]any { return e.fields }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps a Kind to the HTTP status an external router should use.
// This module does not own HTTP routing (spec §1 Non-goals) but the mapping
// is part of the contract an embedding router relies on.
func (k Kind) StatusCode() int {
	switch k {
	case KindInputValidation, KindJSONSchemaValidation, KindInvalidRequest, KindInvalidMessage:
		return http.StatusBadRequest
	case KindUnknownFunction, KindUnknownVariant, KindUnknownMetric, KindInferenceNotFound, KindBatchNotFound, KindOptimizationJobNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindInferenceTimeout:
		return http.StatusRequestTimeout
	case KindModelProvidersExhausted, KindAllVariantsFailed:
		return http.StatusBadGateway
	case KindInferenceClient:
		return http.StatusBadGateway
	case KindInferenceServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the routing chain (model provider fallback,
// variant fallback) should try the next candidate after this error kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindInferenceClient, KindInferenceServer, KindInferenceTimeout:
		return true
	default:
		return false
	}
}

func severityFor(kind Kind) Severity {
	switch kind {
	case KindInputValidation, KindJSONSchemaValidation, KindInvalidRequest, KindInvalidMessage,
		KindUnknownFunction, KindUnknownVariant, KindUnknownMetric, KindInferenceNotFound,
		KindBatchNotFound, KindRateLimitExceeded, KindOutputValidation, KindOutputParsing,
		KindToolNotFound, KindOptimizationJobNotFound:
		return SeverityWarn
	default:
		return SeverityError
	}
}
