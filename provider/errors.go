package provider

import (
	"errors"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/tzgateway/gateway/tzerr"
)

// ClassifyHTTPStatus maps a provider HTTP status code to the gateway's error
// taxonomy, mirroring the teacher's ProviderError classification
// (runtime/agent/model/provider_error.go) collapsed onto the fixed
// tzerr.Kind set this module uses end to end.
func ClassifyHTTPStatus(status int) tzerr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return tzerr.KindAPIKeyMissing
	case status == http.StatusTooManyRequests:
		return tzerr.KindRateLimitExceeded
	case status == http.StatusRequestTimeout:
		return tzerr.KindInferenceTimeout
	case status >= 400 && status < 500:
		return tzerr.KindInferenceClient
	case status >= 500:
		return tzerr.KindInferenceServer
	default:
		return tzerr.KindInferenceClient
	}
}

// ClassifyTransportError inspects a transport-level error (one that never
// reached the provider, or came back with no structured status) and returns
// its Kind: Internal for nil, InferenceServer for any smithy.APIError,
// InferenceTimeout for an error whose Canceled() reports true, and
// InferenceClient for everything else.
func ClassifyTransportError(err error) tzerr.Kind {
	if err == nil {
		return tzerr.KindInternal
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return tzerr.KindInferenceServer
	}
	var canceled interface{ Canceled() bool }
	if errors.As(err, &canceled) && canceled.Canceled() {
		return tzerr.KindInferenceTimeout
	}
	return tzerr.KindInferenceClient
}
