package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrStrategyNotFound 注册表中不存在该策略。
	ErrStrategyNotFound = errors.New("strategy not found")
	// ErrNotTerminal 策略尚未结束，不能确认移除。
	ErrNotTerminal = errors.New("strategy not in terminal state")
	// ErrDuplicateID 策略 ID 冲突。
	ErrDuplicateID = errors.New("duplicate strategy id")
)

// ValidationError 策略配置非法，在下任何订单之前返回。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation 判断是否为配置错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
