// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct проверяет структуру запроса по тегам validate и возвращает ошибку
// с перечислением всех нарушенных полей.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(fields, "; "))
}

// IsPositiveAmount проверяет, что сумма баллов строго положительна.
func IsPositiveAmount(amount int64) bool {
	return amount > 0
}

var (
	maxPoints = decimal.NewFromInt(math.MaxInt64)
	minPoints = decimal.NewFromInt(math.MinInt64)
)

// ScalePoints возвращает floor(points * multiplier) и признак того, что
// результат конечен и помещается в int64. Множитель берётся в кратчайшем
// десятичном представлении, поэтому 100 * 0.29 даёт 29, а не 28.
func ScalePoints(points int64, multiplier float64) (int64, bool) {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return 0, false
	}
	v := decimal.NewFromInt(points).Mul(decimal.NewFromFloat(multiplier)).Floor()
	if v.GreaterThan(maxPoints) || v.LessThan(minPoints) {
		return 0, false
	}
	return v.IntPart(), true
}
