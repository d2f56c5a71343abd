package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthFailed          = "CHARTER_AUTH_FAILED"
	ErrorMalformedPayload    = "CHARTER_MALFORMED_PAYLOAD"
	ErrorUnresolvedReference = "CHARTER_UNRESOLVED_REFERENCE"
	ErrorIllegalTransition   = "CHARTER_ILLEGAL_TRANSITION"
	ErrorTransientStore      = "CHARTER_TRANSIENT_STORE"
	ErrorPayloadTooLarge     = "CHARTER_PAYLOAD_TOO_LARGE"
	ErrorBadInput            = "CHARTER_BAD_INPUT"
	ErrorNotFound            = "CHARTER_NOT_FOUND"
	ErrorInternal            = "CHARTER_INTERNAL_ERROR"
)

var (
	// ErrNotFound is returned by stores when a lookup matches no row.
	ErrNotFound = errors.New("core: not found")
	// ErrEventNotProcessing is returned when a terminal write targets an event
	// that is not held by a claim.
	ErrEventNotProcessing = errors.New("core: event is not processing")
	// ErrStatusConflict is returned when a request status compare-and-set lost.
	ErrStatusConflict = errors.New("core: request status changed concurrently")
)

func charterError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func charterWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return charterError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func AuthError(message string, metadata map[string]any) error {
	if strings.TrimSpace(message) == "" {
		message = "webhook signature verification failed"
	}
	return charterError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed, metadata)
}

func MalformedPayloadError(message string, metadata map[string]any) error {
	return charterError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorMalformedPayload, metadata)
}

func WrapMalformedPayload(source error, message string, metadata map[string]any) error {
	return charterWrapError(source, goerrors.CategoryBadInput, message, http.StatusBadRequest, ErrorMalformedPayload, metadata)
}

func PayloadTooLargeError(limit int64) error {
	return charterError(
		fmt.Sprintf("webhook body exceeds %d bytes", limit),
		goerrors.CategoryBadInput,
		http.StatusRequestEntityTooLarge,
		ErrorPayloadTooLarge,
		map[string]any{"max_body_bytes": limit},
	)
}

// UnresolvedReferenceError marks a read-after-write race: the event refers to
// an entity that is not visible yet. It is retried with backoff.
func UnresolvedReferenceError(entity string, ref string, metadata map[string]any) error {
	fields := map[string]any{"entity": entity, "ref": ref}
	for key, value := range metadata {
		fields[key] = value
	}
	return charterError(
		fmt.Sprintf("%s %q is not known yet", entity, ref),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		ErrorUnresolvedReference,
		fields,
	)
}

func IllegalTransitionError(requestID string, from RequestStatus, to RequestStatus) error {
	return charterError(
		fmt.Sprintf("request %s cannot move from %s to %s", requestID, from, to),
		goerrors.CategoryConflict,
		http.StatusConflict,
		ErrorIllegalTransition,
		map[string]any{
			"request_id": requestID,
			"from":       string(from),
			"to":         string(to),
		},
	)
}

func TransientStoreError(source error, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "store operation failed"
	}
	return charterWrapError(source, goerrors.CategoryExternal, message, http.StatusServiceUnavailable, ErrorTransientStore, nil)
}

func BadInputError(message string, metadata map[string]any) error {
	return charterError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

// ClassifyError returns the rich envelope of err. Unclassified errors become
// transient store errors, except ErrNotFound which maps to not found.
func ClassifyError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureCharterErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrNotFound) {
		return charterWrapError(err, goerrors.CategoryNotFound, err.Error(), http.StatusNotFound, ErrorNotFound, nil)
	}
	if errors.Is(err, ErrStatusConflict) {
		return charterWrapError(err, goerrors.CategoryConflict, err.Error(), http.StatusConflict, ErrorTransientStore, nil)
	}
	return charterWrapError(err, goerrors.CategoryExternal, err.Error(), http.StatusServiceUnavailable, ErrorTransientStore, nil)
}

func ErrorTextCode(err error) string {
	classified := ClassifyError(err)
	if classified == nil {
		return ""
	}
	return classified.TextCode
}

func HTTPStatus(err error) int {
	classified := ClassifyError(err)
	if classified == nil {
		return http.StatusOK
	}
	return classified.Code
}

// IsRetryable reports whether a failed processing attempt should be scheduled
// again. Auth, malformed and illegal transition errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorTextCode(err) {
	case ErrorAuthFailed, ErrorMalformedPayload, ErrorIllegalTransition, ErrorPayloadTooLarge, ErrorBadInput:
		return false
	default:
		return true
	}
}

func ensureCharterErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = charterHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultCharterTextCode(err.Category)
	}
	return err
}

func defaultCharterTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthFailed
	case goerrors.CategoryConflict:
		return ErrorIllegalTransition
	case goerrors.CategoryExternal:
		return ErrorTransientStore
	default:
		return ErrorInternal
	}
}

func charterHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
