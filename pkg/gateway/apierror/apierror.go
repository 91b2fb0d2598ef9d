// Package apierror maps internal errors to HTTP responses.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parley-ai/parley/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &core.Error{
		Type:      core.ErrPersistence,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends the canonical JSON error envelope.
func Write(w http.ResponseWriter, err error, requestID string) {
	apiErr, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
