// Package loyalty содержит правила начисления и списания баллов лояльности.
package loyalty

import (
	"errors"
	"math"
)

// ErrInvalidPolicy возвращается при неположительных коэффициентах программы.
var ErrInvalidPolicy = errors.New("points ratio and point value must be positive")

// ErrOverflow возвращается, когда баланс не помещается в int64.
var ErrOverflow = errors.New("points balance overflow")

// Policy задаёт коэффициенты программы лояльности.
type Policy struct {
	// PointsPerAmount задаёт, сколько рупий нужно потратить за один балл.
	PointsPerAmount float64
	// PointValue задаёт скидку в рупиях за один балл.
	PointValue float64
}

// DefaultPolicy возвращает политику «1 балл за 1 рупию, 1 рупия за балл».
func DefaultPolicy() Policy {
	return Policy{PointsPerAmount: 1, PointValue: 1}
}

// Validate проверяет коэффициенты политики.
func (p Policy) Validate() error {
	if p.PointsPerAmount <= 0 || p.PointValue <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Earned возвращает количество баллов за заказ на сумму totalMinor пайсов
// до применения скидки.
func (p Policy) Earned(totalMinor int64) int64 {
	if totalMinor <= 0 || p.PointsPerAmount <= 0 {
		return 0
	}
	return int64(math.Floor(float64(totalMinor) / (p.PointsPerAmount * 100)))
}

// Discount возвращает скидку в пайсах за указанное количество баллов.
func (p Policy) Discount(points int64) int64 {
	if points <= 0 {
		return 0
	}
	return int64(math.Round(float64(points) * p.PointValue * 100))
}

// ApplyDiscount уменьшает сумму заказа на скидку, не опускаясь ниже нуля.
func ApplyDiscount(totalMinor, discountMinor int64) int64 {
	return Clamp(totalMinor - discountMinor)
}

// Clamp ограничивает значение снизу нулём.
func Clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Reverse возвращает баланс после отмены заказа: начисленные баллы
// снимаются (не ниже нуля), списанные возвращаются.
func Reverse(balance, earned int64, credited bool, redeemed int64) int64 {
	if credited && earned > 0 {
		balance = Clamp(balance - earned)
	}
	if redeemed > 0 {
		balance += redeemed
	}
	return balance
}

// Adjust применяет ручную корректировку: абсолютное значение имеет
// приоритет над приращением. Результат не бывает отрицательным.
func Adjust(balance int64, delta, points *int64) (int64, error) {
	if points != nil {
		return Clamp(*points), nil
	}
	if delta != nil {
		d := *delta
		if (d > 0 && balance > math.MaxInt64-d) || (d < 0 && balance < math.MinInt64-d) {
			return balance, ErrOverflow
		}
		return Clamp(balance + d), nil
	}
	return balance, nil
}
