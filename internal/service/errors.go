package service

import "errors"

// Ошибки проверки входных данных.
var (
	// ErrInvalidAmount возвращается для нулевой или отрицательной суммы.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidCause возвращается, если не указана причина движения баллов.
	ErrInvalidCause = errors.New("invalid cause reference")
	// ErrInvalidRequest возвращается для запроса с отсутствующими или некорректными полями.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidMultiplier возвращается, если множитель даёт меньше одного балла.
	ErrInvalidMultiplier = errors.New("multiplier yields no points")
)

// Ошибки бизнес-правил.
var (
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrRewardNotFound возвращается, если награда не найдена или недоступна.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrRewardOutOfStock возвращается, если награда закончилась.
	ErrRewardOutOfStock = errors.New("reward out of stock")
	// ErrTaskNotFound возвращается, если задание не найдено.
	ErrTaskNotFound = errors.New("task not found")
	// ErrCompletionNotFound возвращается, если заявка о выполнении не найдена.
	ErrCompletionNotFound = errors.New("task completion not found")
	// ErrAlreadyApproved возвращается при повторном подтверждении заявки.
	ErrAlreadyApproved = errors.New("task completion already approved")
)

var businessErrors = []error{
	ErrInvalidAmount,
	ErrInvalidCause,
	ErrInvalidRequest,
	ErrInvalidMultiplier,
	ErrInsufficientBalance,
	ErrRewardNotFound,
	ErrRewardOutOfStock,
	ErrTaskNotFound,
	ErrCompletionNotFound,
	ErrAlreadyApproved,
}

// IsBusinessError сообщает, является ли err ожидаемым отказом, а не сбоем инфраструктуры.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
