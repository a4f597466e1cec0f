// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

// ErrInvalidPassword описывает требования к паролю.
var ErrInvalidPassword = errors.New("password must be at least 8 characters long and include one number and one symbol")

const passwordSymbols = "!@#$%^&*"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsValidPassword(fl.Field().String())
	})
	return v
}

// Struct проверяет структуру по тегам validate и возвращает ошибку с
// описанием первого неверного поля.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "email":
		return fmt.Errorf("%s must be a valid email", field)
	case "password":
		return ErrInvalidPassword
	case "min", "gte":
		return fmt.Errorf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

// IsValidPassword проверяет, что пароль не короче 8 символов, состоит из
// латинских букв, цифр и символов !@#$%^&* и содержит хотя бы одну цифру
// и один символ.
func IsValidPassword(p string) bool {
	if len(p) < 8 {
		return false
	}

	var hasDigit, hasSymbol bool
	for _, r := range p {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		default:
			return false
		}
	}
	return hasDigit && hasSymbol
}

// ParseOrderStatus возвращает статус заказа, если строка совпадает с одним из допустимых.
func ParseOrderStatus(s string) (model.OrderStatus, bool) {
	for _, st := range model.OrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ParseOperationalStatus возвращает операционный статус брони, если строка
// совпадает с одним из допустимых.
func ParseOperationalStatus(s string) (model.OperationalStatus, bool) {
	for _, st := range model.OperationalStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// NormalizeEmail приводит email к нижнему регистру без пробелов по краям.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
