package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind определяет машиночитаемый тип ошибки
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindForbidden
	KindSelfTarget
	KindInvalidState
	KindAlreadyAccepted
	KindDuplicatePending
	KindOwnershipViolation
	KindValueDifferenceTooHigh
	KindRequestedItemMismatch
)

var kindCodes = map[Kind]string{
	KindInternal:               "INTERNAL",
	KindInvalid:                "INVALID_INPUT",
	KindNotFound:               "NOT_FOUND",
	KindForbidden:              "FORBIDDEN",
	KindSelfTarget:             "SELF_TARGET",
	KindInvalidState:           "INVALID_STATE",
	KindAlreadyAccepted:        "ALREADY_ACCEPTED",
	KindDuplicatePending:       "DUPLICATE_PENDING",
	KindOwnershipViolation:     "OWNERSHIP_VIOLATION",
	KindValueDifferenceTooHigh: "VALUE_DIFFERENCE_TOO_HIGH",
	KindRequestedItemMismatch:  "REQUESTED_ITEM_MISMATCH",
}

var kindStatuses = map[Kind]int{
	KindInternal:               http.StatusInternalServerError,
	KindInvalid:                http.StatusBadRequest,
	KindNotFound:               http.StatusNotFound,
	KindForbidden:              http.StatusForbidden,
	KindSelfTarget:             http.StatusBadRequest,
	KindInvalidState:           http.StatusConflict,
	KindAlreadyAccepted:        http.StatusConflict,
	KindDuplicatePending:       http.StatusConflict,
	KindOwnershipViolation:     http.StatusUnprocessableEntity,
	KindValueDifferenceTooHigh: http.StatusUnprocessableEntity,
	KindRequestedItemMismatch:  http.StatusUnprocessableEntity,
}

// String возвращает стабильный код ошибки
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// Code возвращает стабильный код для типа ошибки
func Code(kind Kind) string {
	return kind.String()
}

// Retryable сообщает, может ли клиент повторить операцию, сменив предмет
func (k Kind) Retryable() bool {
	switch k {
	case KindOwnershipViolation, KindValueDifferenceTooHigh, KindRequestedItemMismatch:
		return true
	}
	return false
}

// Error представляет ошибку бизнес-логики с типом и деталями
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap поддерживает errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по типу, чтобы работал errors.Is(err, apperr.New(kind, ""))
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New создает новую ошибку заданного типа
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf создает ошибку с форматированным сообщением
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает инфраструктурную ошибку
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails добавляет машиночитаемые детали
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf возвращает тип ошибки, для неизвестных ошибок KindInternal
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind проверяет тип ошибки
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus возвращает HTTP статус для типа ошибки
func HTTPStatus(kind Kind) int {
	if status, ok := kindStatuses[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Конструкторы для часто используемых ошибок

func NotFound(what string) *Error {
	return Newf(KindNotFound, "%s не найден", what)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func InvalidState(message string) *Error {
	return New(KindInvalidState, message)
}

func Invalid(message string) *Error {
	return New(KindInvalid, message)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}
