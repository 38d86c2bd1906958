package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation returns a generic VAL_001 input validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Cart (CART) ----

func ErrInsufficientStock(message string) *AppError {
	return New("CART_001", message, http.StatusConflict)
}

func ErrCartNotActive() *AppError {
	return New("CART_002", "Cart is not active", http.StatusConflict)
}

func ErrCartExpired() *AppError {
	return New("CART_003", "Cart has expired", http.StatusConflict)
}

func ErrEmptyCart() *AppError {
	return New("CART_004", "Cart has no items", http.StatusBadRequest)
}

// ---- Transaction Ledger (PAY) ----

func ErrInvalidAmount() *AppError {
	return New("PAY_001", "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrCurrencyMismatch() *AppError {
	return New("PAY_002", "Currency does not match the cart currency", http.StatusBadRequest)
}

func ErrUnsupportedCurrency(currency, provider string) *AppError {
	return New("PAY_003", fmt.Sprintf("Currency %s is not supported by provider %s", currency, provider), http.StatusBadRequest)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_004", fmt.Sprintf("Invalid status transition from %s to %s", from, to), http.StatusConflict)
}

func ErrNotRefundable() *AppError {
	return New("PAY_005", "Transaction is not eligible for refund", http.StatusConflict)
}

func ErrRefundAmountExceedsOriginal() *AppError {
	return New("PAY_006", "Refund amount exceeds original transaction amount", http.StatusBadRequest)
}

func ErrDuplicateReference() *AppError {
	return New("PAY_007", "Transaction reference already exists", http.StatusConflict)
}

func ErrSettlementMismatch() *AppError {
	return New("PAY_008", "Verified amount or currency does not match the transaction", http.StatusConflict)
}

func ErrAdapterFailure(provider string, err error) *AppError {
	return Wrap("PAY_009", fmt.Sprintf("Payment provider %s request failed", provider), http.StatusBadGateway, err)
}

// ---- Idempotency (IDEM) ----

func ErrDuplicateRequest() *AppError {
	return New("IDEM_001", "A request with this idempotency key is already in progress", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrAuthRequired() *AppError {
	return New("AUTH_002", "Authentication required", http.StatusUnauthorized)
}

// ---- Webhook Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid webhook signature", http.StatusBadRequest)
}

func ErrInvalidPayload() *AppError {
	return New("SEC_002", "Malformed webhook payload", http.StatusBadRequest)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
