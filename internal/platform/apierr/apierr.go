// Package apierr is the error model shared by the HTTP-facing packages.
package apierr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
	CodeUnavailable     Code = "UNAVAILABLE"
)

// Reason は Code より細かい機械可読な理由。
type Reason string

const (
	ReasonBookNotFound     Reason = "BOOK_NOT_FOUND"
	ReasonBookExists       Reason = "BOOK_EXISTS"
	ReasonOutOfStock       Reason = "OUT_OF_STOCK"
	ReasonAlreadyBorrowed  Reason = "ALREADY_BORROWED"
	ReasonLoanNotFound     Reason = "LOAN_NOT_FOUND"
	ReasonNotOwner         Reason = "NOT_OWNER"
	ReasonAlreadyReturned  Reason = "ALREADY_RETURNED"
	ReasonInvalidStock     Reason = "INVALID_STOCK"
	ReasonInvalidISBN      Reason = "INVALID_ISBN"
	ReasonStockIntegrity   Reason = "STOCK_INTEGRITY"
	ReasonSweepInProgress  Reason = "SWEEP_IN_PROGRESS"
	ReasonUserNotFound     Reason = "USER_NOT_FOUND"
	ReasonAccountDisabled  Reason = "ACCOUNT_DISABLED"
	ReasonBadCredentials   Reason = "BAD_CREDENTIALS"
	ReasonLoanNotActive    Reason = "LOAN_NOT_ACTIVE"
	ReasonDeliveryRejected Reason = "DELIVERY_REJECTED"
	ReasonBookInUse        Reason = "BOOK_IN_USE"
	ReasonSelfDemotion     Reason = "SELF_DEMOTION"
	ReasonSchedulerStopped Reason = "SCHEDULER_STOPPED"
)

type APIError struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return string(e.Code) + ": " + e.Message }

// Is は Code と Reason が一致すれば同一とみなす。メッセージは比較しない。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// WithMessage は同じ Code/Reason でメッセージだけ差し替えたコピーを返す。
func (e *APIError) WithMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

func New(code Code, reason Reason, msg string) *APIError {
	return &APIError{Code: code, Reason: reason, Message: msg}
}

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func ErrForbidden(msg string) *APIError {
	return &APIError{Code: CodeForbidden, Message: msg}
}

func ToHTTPStatus(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		switch e.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeForbidden:
			return http.StatusForbidden
		case CodeConflict:
			return http.StatusConflict
		case CodeUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

type ErrorDTO struct {
	Error APIError `json:"error"`
}

// Body はレスポンス用のエラー本文。APIError 以外は内容を伏せる。
func Body(err error) ErrorDTO {
	var e *APIError
	if errors.As(err, &e) {
		return ErrorDTO{Error: *e}
	}
	return ErrorDTO{Error: APIError{Code: CodeInternal, Message: "internal error"}}
}
