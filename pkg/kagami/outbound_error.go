package kagami

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationGetMessage identifies GetMessage operations.
	OutboundOperationGetMessage OutboundOperation = "get_message"
	// OutboundOperationGetConversation identifies GetConversation operations.
	OutboundOperationGetConversation OutboundOperation = "get_conversation"
	// OutboundOperationListSpaces identifies ListSpaces operations.
	OutboundOperationListSpaces OutboundOperation = "list_spaces"
	// OutboundOperationCreateProxy identifies CreateProxyEndpoint operations.
	OutboundOperationCreateProxy OutboundOperation = "create_proxy_endpoint"
	// OutboundOperationGetProxy identifies GetProxyEndpoint operations.
	OutboundOperationGetProxy OutboundOperation = "get_proxy_endpoint"
	// OutboundOperationExecuteProxy identifies ExecuteProxyEndpoint operations.
	OutboundOperationExecuteProxy OutboundOperation = "execute_proxy_endpoint"
	// OutboundOperationEditProxyMessage identifies EditProxyMessage operations.
	OutboundOperationEditProxyMessage OutboundOperation = "edit_proxy_message"
	// OutboundOperationDeleteProxyMessage identifies DeleteProxyMessage operations.
	OutboundOperationDeleteProxyMessage OutboundOperation = "delete_proxy_message"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindNotFound indicates the addressed object does not exist.
	OutboundErrorKindNotFound OutboundErrorKind = "not_found"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	// Operation identifies which outbound operation failed.
	Operation OutboundOperation
	// Kind classifies whether and how callers should retry.
	Kind OutboundErrorKind
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// RetryAfter carries suggested retry delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Status carries the transport status code when known.
	Status int
	// Code carries the platform error code when known.
	Code int
	// Cause is the wrapped platform/transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 6)
	if operation := strings.TrimSpace(string(e.Operation)); operation != "" {
		fields = append(fields, "operation="+operation)
	}
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if platform := strings.TrimSpace(string(e.Platform)); platform != "" {
		fields = append(fields, "platform="+platform)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Status != 0 {
		fields = append(fields, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}

	if len(fields) == 0 {
		if e.Cause == nil {
			return "outbound error"
		}
		return fmt.Sprintf("outbound error: %v", e.Cause)
	}

	if e.Cause == nil {
		return "outbound error: " + strings.Join(fields, " ")
	}
	return "outbound error: " + strings.Join(fields, " ") + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Is lets errors.Is(err, ErrNotFound) match not-found classifications.
func (e *OutboundError) Is(target error) bool {
	return e != nil && target == ErrNotFound && e.Kind == OutboundErrorKindNotFound
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts retry delay metadata from outbound rate-limit errors.
//
// It returns `(0, false)` if err is not classified as rate-limited.
// It returns `(0, true)` when rate-limited but no retry-after hint is known.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr == nil || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
