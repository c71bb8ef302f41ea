package dto

import (
	"errors"
	"net/http"

	domain "github.com/profitledger/backend/internal/domain/ledger"
	"github.com/profitledger/backend/internal/domain/shared"
)

// Error code constants. Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeValidation = "ERR_VALIDATION"
	ErrCodeBadRequest = "ERR_BAD_REQUEST"

	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	ErrCodeSignature    = "ERR_SIGNATURE_INVALID"

	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeUnknownShop   = "ERR_UNKNOWN_SHOP"
	ErrCodeOrderNotFound = "ERR_ORDER_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	ErrCodeConflict      = "ERR_CONFLICT"
	ErrCodeInvalidState  = "ERR_INVALID_STATE"

	ErrCodeMalformedPayload = "ERR_MALFORMED_PAYLOAD"
	ErrCodeBackfillActive   = "ERR_BACKFILL_ACTIVE"
	ErrCodeBackfillNotFound = "ERR_BACKFILL_NOT_FOUND"
	ErrCodeBackfillExport   = "ERR_BACKFILL_EXPORT"
	ErrCodeUnavailable      = "ERR_DOWNSTREAM_UNAVAILABLE"

	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation: http.StatusBadRequest,
	ErrCodeBadRequest: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeSignature:    http.StatusUnauthorized,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeUnknownShop:   http.StatusNotFound,
	ErrCodeOrderNotFound: http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeInvalidState:  http.StatusConflict,

	ErrCodeMalformedPayload: http.StatusBadRequest,
	ErrCodeBackfillActive:   http.StatusConflict,
	ErrCodeBackfillNotFound: http.StatusNotFound,
	ErrCodeBackfillExport:   http.StatusBadGateway,
	ErrCodeUnavailable:      http.StatusServiceUnavailable,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code, 500 if unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainErrorCodes maps shared.DomainError codes to API codes
var domainErrorCodes = map[string]string{
	"NOT_FOUND":        ErrCodeNotFound,
	"ALREADY_EXISTS":   ErrCodeAlreadyExists,
	"INVALID_INPUT":    ErrCodeBadRequest,
	"INVALID_STATE":    ErrCodeInvalidState,
	"UNAUTHORIZED":     ErrCodeUnauthorized,
	"INVALID_SHOP":     ErrCodeValidation,
	"INVALID_SETTINGS": ErrCodeValidation,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Unknown codes are returned as is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := domainErrorCodes[code]; ok {
		return newCode
	}
	return code
}

// ledgerErrors is checked in order; the first match wins
var ledgerErrors = []struct {
	err  error
	code string
}{
	{domain.ErrAuthentication, ErrCodeSignature},
	{domain.ErrUnknownShop, ErrCodeUnknownShop},
	{domain.ErrMalformedPayload, ErrCodeMalformedPayload},
	{domain.ErrInvalidBackfillDays, ErrCodeValidation},
	{domain.ErrOrderNotFound, ErrCodeOrderNotFound},
	{domain.ErrBackfillActive, ErrCodeBackfillActive},
	{domain.ErrBackfillNotFound, ErrCodeBackfillNotFound},
	{domain.ErrBackfillExport, ErrCodeBackfillExport},
	{domain.ErrDownstreamUnavailable, ErrCodeUnavailable},
}

// ClassifyError returns the API code and a client-safe message for err.
// Server-side failures report only the sentinel text, never the wrapped
// cause.
func ClassifyError(err error) (code, message string) {
	for _, le := range ledgerErrors {
		if errors.Is(err, le.err) {
			if GetHTTPStatus(le.code) >= http.StatusInternalServerError {
				return le.code, le.err.Error()
			}
			return le.code, err.Error()
		}
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return NormalizeErrorCode(domainErr.Code), domainErr.Message
	}
	return ErrCodeInternal, "An unexpected error occurred"
}
