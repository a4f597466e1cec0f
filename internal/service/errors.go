package service

import (
	"errors"
	"fmt"
)

// Виды ошибок сервиса. Каждая возвращаемая доменная ошибка оборачивает ровно один вид.
var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidInput        = errors.New("invalid_input")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid_state")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrAlreadyRedeemed     = errors.New("already_redeemed")
	ErrUnavailable         = errors.New("unavailable")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Error описывает доменную ошибку с видом и сообщением для клиента.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message возвращает сообщение доменной ошибки или пустую строку.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
